package vtree

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// setToken mirrors the teacher's pkg/config token kinds (TokenSet,
// TokenWord, TokenString, TokenNumber, TokenEOL, TokenEOF, TokenError),
// reused here so `netconfctl`'s operator-facing "set <path> <value>"
// commands and startup-config text snapshots are tokenized with the same
// lexer idiom the teacher used for router "set" commands.
type setTokenKind int

const (
	setTokenWord setTokenKind = iota
	setTokenString
	setTokenSet
	setTokenDelete
	setTokenEOL
	setTokenEOF
	setTokenError
)

type setToken struct {
	kind  setTokenKind
	value string
}

type setLexer struct {
	r    *bufio.Reader
	ch   rune
	eof  bool
}

func newSetLexer(r io.Reader) *setLexer {
	l := &setLexer{r: bufio.NewReader(r)}
	l.readChar()
	return l
}

func (l *setLexer) readChar() {
	ch, _, err := l.r.ReadRune()
	if err != nil {
		l.eof = true
		l.ch = 0
		return
	}
	l.ch = ch
}

func (l *setLexer) skipSpace() {
	for !l.eof && unicode.IsSpace(l.ch) && l.ch != '\n' {
		l.readChar()
	}
}

func isSetWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || strings.ContainsRune("-_/.:[]='@", ch)
}

func (l *setLexer) next() setToken {
	l.skipSpace()
	if l.eof {
		return setToken{kind: setTokenEOF}
	}
	switch {
	case l.ch == '\n':
		l.readChar()
		return setToken{kind: setTokenEOL}
	case l.ch == '#':
		for !l.eof && l.ch != '\n' {
			l.readChar()
		}
		return l.next()
	case l.ch == '"':
		return l.readString()
	case isSetWordChar(l.ch):
		return l.readWord()
	default:
		tok := setToken{kind: setTokenError, value: fmt.Sprintf("unexpected character: %c", l.ch)}
		l.readChar()
		return tok
	}
}

func (l *setLexer) readWord() setToken {
	var sb strings.Builder
	for !l.eof && isSetWordChar(l.ch) {
		sb.WriteRune(l.ch)
		l.readChar()
	}
	word := sb.String()
	switch word {
	case "set":
		return setToken{kind: setTokenSet, value: word}
	case "delete":
		return setToken{kind: setTokenDelete, value: word}
	default:
		return setToken{kind: setTokenWord, value: word}
	}
}

func (l *setLexer) readString() setToken {
	var sb strings.Builder
	l.readChar() // opening quote
	for !l.eof && l.ch != '"' {
		if l.ch == '\\' {
			l.readChar()
			if l.eof {
				return setToken{kind: setTokenError, value: "unterminated escape"}
			}
		}
		sb.WriteRune(l.ch)
		l.readChar()
	}
	if l.eof {
		return setToken{kind: setTokenError, value: "unterminated string"}
	}
	l.readChar() // closing quote
	return setToken{kind: setTokenString, value: sb.String()}
}

// SetCommand is one parsed "set <path> <value>" or "delete <path>" line.
type SetCommand struct {
	Delete bool
	Path   []string
	Value  string
}

// ParseSetCommands tokenizes a "set"-command script (one command per line)
// into a slice of SetCommand, in the teacher's pkg/config/parser.go
// line-oriented recursive-descent style, generalized from router-specific
// keywords (interfaces/bgp/ospf) to arbitrary path segments so it can drive
// edits against any *Node tree rather than a fixed Config struct.
func ParseSetCommands(r io.Reader) ([]SetCommand, error) {
	lex := newSetLexer(r)
	var cmds []SetCommand

	for {
		tok := lex.next()
		switch tok.kind {
		case setTokenEOF:
			return cmds, nil
		case setTokenEOL:
			continue
		case setTokenError:
			return nil, fmt.Errorf("vtree: %s", tok.value)
		case setTokenSet, setTokenDelete:
			cmd := SetCommand{Delete: tok.kind == setTokenDelete}
			for {
				t := lex.next()
				if t.kind == setTokenEOL || t.kind == setTokenEOF {
					break
				}
				if t.kind == setTokenError {
					return nil, fmt.Errorf("vtree: %s", t.value)
				}
				cmd.Path = append(cmd.Path, t.value)
			}
			if len(cmd.Path) == 0 {
				return nil, fmt.Errorf("vtree: set/delete with no path")
			}
			if !cmd.Delete {
				cmd.Value = cmd.Path[len(cmd.Path)-1]
				cmd.Path = cmd.Path[:len(cmd.Path)-1]
			}
			cmds = append(cmds, cmd)
		default:
			return nil, fmt.Errorf("vtree: expected 'set' or 'delete', got %q", tok.value)
		}
	}
}

// Apply walks root, creating intermediate containers as needed, and sets
// or deletes the leaf named by the command's last path segment.
func (c SetCommand) Apply(root *Node) error {
	if len(c.Path) == 0 {
		return fmt.Errorf("vtree: empty path")
	}
	cur := root
	for _, seg := range c.Path[:len(c.Path)-1] {
		child := cur.Child(seg)
		if child == nil {
			child = NewContainer(seg, cur.Namespace, Container)
			cur.AddChild(child)
		}
		cur = child
	}
	leafName := c.Path[len(c.Path)-1]
	if c.Delete {
		if child := cur.Child(leafName); child != nil {
			cur.RemoveChild(child)
		}
		return nil
	}
	leaf := cur.Child(leafName)
	if leaf == nil {
		leaf = NewLeaf(leafName, cur.Namespace, c.Value, Leaf)
		cur.AddChild(leaf)
	} else {
		leaf.Value = c.Value
	}
	return nil
}
