// Command knockd runs the zero-trust forward-auth gateway.
package main

import "github.com/sitegui/knockd/cmd/knockd/cmd"

func main() {
	cmd.Execute()
}
