package core

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// ChallengeLength is the number of characters in a generated challenge message
const ChallengeLength = 16

const challengeAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// MessageGenerator produces unpredictable challenge messages
type MessageGenerator func() (string, error)

// GenerateChallenge returns ChallengeLength random base-36 characters
func GenerateChallenge() (string, error) {
	max := big.NewInt(int64(len(challengeAlphabet)))
	buf := make([]byte, ChallengeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate challenge: %w", err)
		}
		buf[i] = challengeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// FreshChallenge generates a message that differs from previous
func FreshChallenge(gen MessageGenerator, previous string) (string, error) {
	for {
		msg, err := gen()
		if err != nil {
			return "", err
		}
		if msg != previous {
			return msg, nil
		}
	}
}
