package security

import (
	"crypto/rand"
	"errors"
	"math/big"
)

// CodeAlphabet — символы кода комнаты.
const CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomString — строка длины n из alphabet с равномерным распределением.
func RandomString(n int, alphabet string) (string, error) {
	if n <= 0 || alphabet == "" {
		return "", errors.New("random string: bad arguments")
	}
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}

// RoomCode — 6 символов [A-Z0-9].
func RoomCode() (string, error) {
	return RandomString(6, CodeAlphabet)
}
