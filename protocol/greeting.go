package protocol

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

const (
	// GreetingSize is the fixed size of the ASCII block a server sends
	// immediately after accepting a connection.
	GreetingSize = 128

	// ScrambleSize is the number of salt bytes fed into the authentication
	// scramble.
	ScrambleSize = 20

	greetingVersionLine = 64
	greetingSaltLine    = 44
)

// Greeting is the parsed server hello: a human-readable version line and the
// decoded authentication salt.
type Greeting struct {
	Version string
	Salt    []byte
}

// ReadGreeting reads and parses the fixed-size greeting block from r.
func ReadGreeting(r io.Reader) (*Greeting, error) {
	block := make([]byte, GreetingSize)
	if _, err := io.ReadFull(r, block); err != nil {
		return nil, err
	}
	return ParseGreeting(block)
}

// ParseGreeting decodes a greeting block: a 64-byte version line followed by
// a base64 salt line, padded to 128 bytes.
func ParseGreeting(block []byte) (*Greeting, error) {
	if len(block) != GreetingSize {
		return nil, fmt.Errorf("greeting block must be %d bytes, got %d", GreetingSize, len(block))
	}

	version := strings.TrimSpace(string(block[:greetingVersionLine]))
	if version == "" {
		return nil, fmt.Errorf("greeting carries an empty server version line")
	}

	encodedSalt := strings.TrimSpace(string(block[greetingVersionLine : greetingVersionLine+greetingSaltLine]))
	salt, err := base64.StdEncoding.DecodeString(encodedSalt)
	if err != nil {
		return nil, fmt.Errorf("greeting salt is not valid base64: %v", err)
	}
	if len(salt) < ScrambleSize {
		return nil, fmt.Errorf("greeting salt is %d bytes, need at least %d", len(salt), ScrambleSize)
	}

	return &Greeting{Version: version, Salt: salt}, nil
}

// BuildGreeting renders a greeting block for the given version line and raw
// salt. It is the inverse of ParseGreeting and is used by in-process peers.
func BuildGreeting(version string, salt []byte) []byte {
	block := make([]byte, GreetingSize)
	for i := range block {
		block[i] = ' '
	}
	copy(block, version)
	block[greetingVersionLine-1] = '\n'
	copy(block[greetingVersionLine:], base64.StdEncoding.EncodeToString(salt))
	block[GreetingSize-1] = '\n'
	return block
}

// Scramble computes the chap-sha1 authentication proof:
//
//	xor(sha1(password), sha1(salt[:20] + sha1(sha1(password))))
func Scramble(password string, salt []byte) []byte {
	step1 := sha1.Sum([]byte(password))
	step2 := sha1.Sum(step1[:])

	h := sha1.New()
	h.Write(salt[:ScrambleSize])
	h.Write(step2[:])
	step3 := h.Sum(nil)

	scramble := make([]byte, ScrambleSize)
	for i := range scramble {
		scramble[i] = step1[i] ^ step3[i]
	}
	return scramble
}

// AuthArgs builds the body argument list of an AUTH request.
func AuthArgs(username string, scramble []byte) []interface{} {
	return []interface{}{
		KeyUserName, username,
		KeyTuple, []interface{}{"chap-sha1", scramble},
	}
}
