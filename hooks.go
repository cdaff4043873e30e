package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

type sqlExecer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// runHookFiles reads each SQL file, expands {{schema}} and {{recipe}}, and
// executes every statement against the recipe store. {{schema}} expands to the
// bare schema name; {{recipe}} expands to the recipe name as a quoted string
// literal.
func runHookFiles(ctx context.Context, exec sqlExecer, cfg *PlanConfig, recipeName string, files []string, phase string, logger *zap.Logger) error {
	if len(files) == 0 {
		return nil
	}
	logger.Info("Running hooks", zap.String("phase", phase), zap.Int("files", len(files)))

	replacer := strings.NewReplacer("{{schema}}", cfg.Store.Schema, "{{recipe}}", pgLiteral(recipeName))
	for _, f := range files {
		data, err := os.ReadFile(cfg.resolvePath(f))
		if err != nil {
			return fmt.Errorf("hook %s: read %s: %w", phase, f, err)
		}

		stmts := splitStatements(replacer.Replace(string(data)))
		logger.Debug("Hook file loaded", zap.String("file", f), zap.Int("statements", len(stmts)))
		for i, stmt := range stmts {
			if _, err := exec.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("hook %s: %s: statement %d: %w\nSQL: %s", phase, f, i+1, err, stmt)
			}
		}
	}
	return nil
}

// pgLiteral quotes s as a PostgreSQL string literal.
func pgLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// sqlSplitter tracks the lexical context of a SQL script so that semicolons
// inside literals, quoted identifiers, comments and dollar-quoted bodies do
// not end a statement.
type sqlSplitter struct {
	src          string
	pos          int
	current      strings.Builder
	stmts        []string
	singleQuote  bool
	doubleQuote  bool
	lineComment  bool
	commentDepth int
	dollarTag    string
}

// splitStatements splits SQL text on top-level semicolons, dropping empty statements.
func splitStatements(sql string) []string {
	s := &sqlSplitter{src: sql}
	for s.pos < len(s.src) {
		s.step()
	}
	s.flush()
	return s.stmts
}

func (s *sqlSplitter) peek(offset int) byte {
	if i := s.pos + offset; i < len(s.src) {
		return s.src[i]
	}
	return 0
}

// take copies n bytes to the current statement.
func (s *sqlSplitter) take(n int) {
	s.current.WriteString(s.src[s.pos : s.pos+n])
	s.pos += n
}

func (s *sqlSplitter) flush() {
	if stmt := strings.TrimSpace(s.current.String()); stmt != "" {
		s.stmts = append(s.stmts, stmt)
	}
	s.current.Reset()
}

// closeQuote handles a quote character inside a quoted run; doubled quotes are escapes.
func (s *sqlSplitter) closeQuote(q byte) bool {
	if s.peek(1) == q {
		s.take(2)
		return false
	}
	s.take(1)
	return true
}

func (s *sqlSplitter) step() {
	c := s.peek(0)
	switch {
	case s.lineComment:
		s.lineComment = c != '\n'
		s.take(1)
	case s.commentDepth > 0:
		switch {
		case c == '/' && s.peek(1) == '*':
			s.commentDepth++
			s.take(2)
		case c == '*' && s.peek(1) == '/':
			s.commentDepth--
			s.take(2)
		default:
			s.take(1)
		}
	case s.singleQuote:
		if c == '\'' {
			s.singleQuote = !s.closeQuote('\'')
		} else {
			s.take(1)
		}
	case s.doubleQuote:
		if c == '"' {
			s.doubleQuote = !s.closeQuote('"')
		} else {
			s.take(1)
		}
	case s.dollarTag != "":
		if strings.HasPrefix(s.src[s.pos:], s.dollarTag) {
			s.take(len(s.dollarTag))
			s.dollarTag = ""
		} else {
			s.take(1)
		}
	case c == '-' && s.peek(1) == '-':
		s.lineComment = true
		s.take(2)
	case c == '/' && s.peek(1) == '*':
		s.commentDepth = 1
		s.take(2)
	case c == '\'':
		s.singleQuote = true
		s.take(1)
	case c == '"':
		s.doubleQuote = true
		s.take(1)
	case c == '$':
		if tag, ok := parseDollarTag(s.src, s.pos); ok {
			s.dollarTag = tag
			s.take(len(tag))
		} else {
			s.take(1)
		}
	case c == ';':
		s.pos++
		s.flush()
	default:
		s.take(1)
	}
}

// parseDollarTag recognizes $$ and $tag$ openers at position i.
func parseDollarTag(sql string, i int) (string, bool) {
	if i >= len(sql) || sql[i] != '$' {
		return "", false
	}
	if i+1 < len(sql) && sql[i+1] == '$' {
		return "$$", true
	}
	j := i + 1
	if j >= len(sql) || !isDollarTagStart(sql[j]) {
		return "", false
	}
	for j < len(sql) && isDollarTagChar(sql[j]) {
		j++
	}
	if j < len(sql) && sql[j] == '$' {
		return sql[i : j+1], true
	}
	return "", false
}

func isDollarTagStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDollarTagChar(c byte) bool {
	return isDollarTagStart(c) || (c >= '0' && c <= '9')
}
