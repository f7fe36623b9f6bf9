package credstore

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Cost is the bcrypt work factor used for every freshly hashed UID. bcrypt's
// stored form self-describes both its cost and its salt, exactly what the
// verifier needs and nothing more.
const Cost = bcrypt.DefaultCost

// Hash produces a salted, self-describing hash of uid using a freshly
// generated random salt. Every call produces a different stored value even
// for the same uid.
func Hash(uid string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(uid), Cost)
	if err != nil {
		return "", fmt.Errorf("hash uid: %w", err)
	}
	return string(out), nil
}

// Verify reports whether uid matches the salt and hash embedded in stored.
// It never compares hashes textually; the KDF is always run.
func Verify(uid, stored string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(uid)) == nil
}
