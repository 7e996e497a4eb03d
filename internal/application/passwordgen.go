package application

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Password length bounds for GeneratePassword.
const (
	DefaultPasswordLength = 16
	MinPasswordLength     = 8
	MaxPasswordLength     = 128
)

var passwordClasses = []string{
	"abcdefghijklmnopqrstuvwxyz",
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ",
	"0123456789",
	"!@#$%^&*()-_=+[]{};:,.?",
}

// generatePassword returns a random password of the given length containing
// at least one character from every class.
func generatePassword(length int) (string, error) {
	var alphabet string
	for _, class := range passwordClasses {
		alphabet += class
	}

	out := make([]byte, length)
	for i, class := range passwordClasses {
		c, err := pick(class)
		if err != nil {
			return "", err
		}
		out[i] = c
	}
	for i := len(passwordClasses); i < length; i++ {
		c, err := pick(alphabet)
		if err != nil {
			return "", err
		}
		out[i] = c
	}

	// Fisher-Yates so the guaranteed characters are not always first.
	for i := length - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("shuffle password: %w", err)
		}
		k := j.Int64()
		out[i], out[k] = out[k], out[i]
	}

	return string(out), nil
}

func pick(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, fmt.Errorf("read random: %w", err)
	}
	return set[n.Int64()], nil
}
