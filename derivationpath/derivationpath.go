package derivationpath

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

type StartingPoint int

const (
	tokenMaster    = 0x6D // char m
	tokenSeparator = 0x2F // char /
	tokenHardened  = 0x27 // char '
	tokenDot       = 0x2E // char .

	// HardenedStart is the first hardened index, 2^31.
	HardenedStart = 0x80000000
)

const (
	StartingPointMaster StartingPoint = iota + 1
	StartingPointCurrent
	StartingPointParent
)

type parseFunc = func() error

type parser struct {
	r                    *strings.Reader
	f                    parseFunc
	pos                  int
	path                 []uint32
	start                StartingPoint
	currentToken         string
	currentTokenHardened bool
}

func newParser(path string) *parser {
	p := &parser{
		r:     strings.NewReader(path),
		start: StartingPointCurrent,
		path:  make([]uint32, 0),
	}

	p.f = p.parseStart

	return p
}

func (p *parser) parse() (StartingPoint, []uint32, error) {
	for {
		err := p.f()
		if err == io.EOF {
			return p.start, p.path, nil
		}

		if err != nil {
			return p.start, p.path, fmt.Errorf("at position %d, %s", p.pos, err.Error())
		}
	}
}

func (p *parser) readByte() (byte, error) {
	b, err := p.r.ReadByte()
	if err != nil {
		return b, err
	}

	p.pos++

	return b, nil
}

func (p *parser) unreadByte() error {
	if err := p.r.UnreadByte(); err != nil {
		return err
	}

	p.pos--

	return nil
}

func (p *parser) parseStart() error {
	b, err := p.readByte()
	if err != nil {
		return err
	}

	switch b {
	case tokenMaster:
		p.start = StartingPointMaster
		p.f = p.parseSeparator
		return nil
	case tokenDot:
		b2, err := p.readByte()
		if err != nil {
			return err
		}

		p.f = p.parseSeparator
		if b2 == tokenDot {
			p.start = StartingPointParent
			return nil
		}

		return p.unreadByte()
	}

	p.f = p.parseSegment

	return p.unreadByte()
}

func (p *parser) saveSegment() error {
	if len(p.currentToken) > 0 {
		i, err := strconv.ParseUint(p.currentToken, 10, 32)
		if err != nil {
			return err
		}

		if i >= HardenedStart {
			p.pos -= len(p.currentToken) - 1
			return fmt.Errorf("index must be lower than 2^31, got %d", i)
		}

		if p.currentTokenHardened {
			i += HardenedStart
		}

		p.path = append(p.path, uint32(i))
	}

	p.f = p.parseSegment
	p.currentToken = ""
	p.currentTokenHardened = false

	return nil
}

func (p *parser) parseSeparator() error {
	b, err := p.readByte()
	if err != nil {
		return err
	}

	if b == tokenSeparator {
		return p.saveSegment()
	}

	return fmt.Errorf("expected %s, got %s", string(rune(tokenSeparator)), string(b))
}

func (p *parser) parseSegment() error {
	b, err := p.readByte()
	if err == io.EOF {
		if len(p.currentToken) == 0 {
			return fmt.Errorf("expected number, got EOF")
		}

		if newErr := p.saveSegment(); newErr != nil {
			return newErr
		}

		return err
	}

	if err != nil {
		return err
	}

	if len(p.currentToken) > 0 && b == tokenSeparator {
		return p.saveSegment()
	}

	if len(p.currentToken) > 0 && b == tokenHardened {
		p.currentTokenHardened = true
		p.f = p.parseSeparator
		return nil
	}

	if b < 0x30 || b > 0x39 {
		return fmt.Errorf("expected number, got %s", string(b))
	}

	p.currentToken += string(b)

	return nil
}

// Decode parses a path such as "m/44'/60'/0'/0/0" or "44'/354'/0'/0'/0'".
func Decode(str string) (StartingPoint, []uint32, error) {
	p := newParser(str)
	return p.parse()
}

// Encode formats path back into its textual form. Hardened segments get a trailing '.
func Encode(start StartingPoint, path []uint32) string {
	segments := make([]string, 0, len(path)+1)

	switch start {
	case StartingPointMaster:
		segments = append(segments, "m")
	case StartingPointParent:
		segments = append(segments, "..")
	}

	for _, i := range path {
		if IsHardened(i) {
			segments = append(segments, fmt.Sprintf("%d'", i-HardenedStart))
			continue
		}

		segments = append(segments, strconv.FormatUint(uint64(i), 10))
	}

	return strings.Join(segments, "/")
}

// Harden returns the hardened form of index i.
func Harden(i uint32) uint32 {
	return i | HardenedStart
}

func IsHardened(i uint32) bool {
	return i >= HardenedStart
}
