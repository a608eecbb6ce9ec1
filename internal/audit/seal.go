package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"trustaudit/internal/types"
)

// Seal returns the sha256 of the RFC 8785 canonical JSON of result, with
// the digest field itself left out.
func Seal(result *types.AuditResult) (string, error) {
	c := *result
	c.Digest = ""
	data, err := json.Marshal(&c)
	if err != nil {
		return "", fmt.Errorf("marshal audit result: %w", err)
	}
	canonical, err := jcs.Transform(data)
	if err != nil {
		return "", fmt.Errorf("canonicalize audit result: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// VerifySeal reports whether result still matches its stored digest.
func VerifySeal(result *types.AuditResult) (bool, error) {
	if result.Digest == "" {
		return false, nil
	}
	got, err := Seal(result)
	if err != nil {
		return false, err
	}
	return got == result.Digest, nil
}
