package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Users maps a user name to the set of base32-encoded TOTP secrets that
// authenticate as that user. A user may have more than one secret on file
// (one per enrolled device); any one of them verifying is sufficient.
type Users map[string][]string

// LoadUsers reads the users file: one "name,base32secret" pair per line,
// blank lines ignored. A name may repeat across lines to register a second
// device.
func LoadUsers(path string) (Users, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open users file: %w", err)
	}
	defer f.Close()

	users := make(Users)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		name, secret, err := parseUserLine(line)
		if err != nil {
			return nil, fmt.Errorf("config: users file line %d: %w", lineNo, err)
		}
		users[name] = append(users[name], secret)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read users file: %w", err)
	}

	return users, nil
}

func parseUserLine(s string) (name, secret string, err error) {
	name, secret, ok := strings.Cut(s, ",")
	if !ok {
		return "", "", fmt.Errorf("missing comma")
	}
	name = strings.TrimSpace(name)
	secret = strings.TrimSpace(secret)
	if name == "" {
		return "", "", fmt.Errorf("empty user name")
	}

	// Validate the secret decodes and produces a code now, so a bad line is
	// caught at boot rather than at the first failed login.
	if _, err := totp.GenerateCode(secret, time.Now()); err != nil {
		return "", "", fmt.Errorf("invalid TOTP secret for %q: %w", name, err)
	}

	return name, secret, nil
}

// Verify reports whether passcode is currently valid for any of the user's
// registered TOTP secrets, per RFC 6238 (30s step, accepting the adjacent
// step on either side for clock skew).
func (u Users) Verify(name, passcode string) bool {
	for _, secret := range u[name] {
		ok, err := totp.ValidateCustom(passcode, secret, time.Now(), totp.ValidateOpts{
			Period:    30,
			Skew:      1,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err == nil && ok {
			return true
		}
	}
	return false
}
