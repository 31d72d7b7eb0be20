// Package joincode generates and normalizes the short codes participants
// type to join a live session.
package joincode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Alphabet excludes 0, 1, I and O so codes survive being read aloud.
// Its length is 32, so one random byte masked to 5 bits picks a symbol
// without modulo bias.
const Alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// Length is the number of symbols in a join code.
const Length = 6

var ErrMalformed = errors.New("join code is malformed")

// Generator produces join codes from a random source.
type Generator struct {
	random io.Reader
}

// NewGenerator returns a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{random: rand.Reader}
}

// NewGeneratorFrom returns a generator reading from r. Tests use it to make
// codes deterministic.
func NewGeneratorFrom(r io.Reader) *Generator {
	return &Generator{random: r}
}

// Generate returns a new canonical join code.
func (g *Generator) Generate() (string, error) {
	buf := make([]byte, Length)
	if _, err := io.ReadFull(g.random, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = Alphabet[b&31]
	}
	return string(buf), nil
}

// Normalize trims and uppercases raw and checks it against the code format.
func Normalize(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if !Valid(code) {
		return "", ErrMalformed
	}
	return code, nil
}

// Valid reports whether code is a canonical join code.
func Valid(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

// Sequence is an io.Reader that replays codes in order, for tests and
// fixtures that need known join codes. Each code must be valid.
type Sequence struct {
	data []byte
}

// NewSequence encodes codes as the bytes Generate maps back to them.
func NewSequence(codes ...string) *Sequence {
	s := &Sequence{}
	for _, c := range codes {
		for i := 0; i < len(c); i++ {
			s.data = append(s.data, byte(strings.IndexByte(Alphabet, c[i])))
		}
	}
	return s
}

func (s *Sequence) Read(p []byte) (int, error) {
	if len(s.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.data)
	s.data = s.data[n:]
	return n, nil
}
