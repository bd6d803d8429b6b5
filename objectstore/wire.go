package objectstore

import "encoding/base64"

// encodeBase64 and decodeBase64 implement the "metadata is base64-encoded
// ciphertext" rule of §6: the JSON wire format never carries raw binary.
func encodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func decodeBase64(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
