package sqlmap

import (
	"log/slog"
	"reflect"
	"strings"
	"time"
)

// Session binds a connection to a mapper and the settings used to run
// commands on it. Like the connection, it serves one caller at a time;
// the mapper it uses may be shared by any number of sessions.
type Session struct {
	conn     Conn
	mapper   *Mapper
	log      *slog.Logger
	ph       Placeholder
	timeout  time.Duration
	desc     string
	procCall func(name string, nargs int) string
}

// Option configures a Session.
type Option func(*Session)

// WithMapper replaces the process-wide default mapper, e.g. to isolate tests.
func WithMapper(m *Mapper) Option { return func(s *Session) { s.mapper = m } }

func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.log = l } }

// WithPlaceholder sets how '?' placeholders are rewritten before execution.
func WithPlaceholder(ph Placeholder) Option { return func(s *Session) { s.ph = ph } }

// WithTimeout bounds every command that does not set its own timeout.
func WithTimeout(d time.Duration) Option { return func(s *Session) { s.timeout = d } }

// WithDescriptor overrides the connection descriptor used in cache identities.
func WithDescriptor(d string) Option { return func(s *Session) { s.desc = d } }

// WithProcedureCall sets how a stored procedure name and its argument count
// are rendered; the default is "CALL name(?, ?)".
func WithProcedureCall(fn func(name string, nargs int) string) Option {
	return func(s *Session) { s.procCall = fn }
}

// New returns a session over conn.
func New(conn Conn, opts ...Option) *Session {
	s := &Session{conn: conn, procCall: callProcedure}
	for _, o := range opts {
		o(s)
	}
	if s.mapper == nil {
		s.mapper = getMapper()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.desc == "" {
		s.desc = conn.Descriptor()
	}
	return s
}

func (s *Session) Mapper() *Mapper { return s.mapper }
func (s *Session) Conn() Conn      { return s.conn }

func callProcedure(name string, nargs int) string {
	var b strings.Builder
	b.WriteString("CALL ")
	b.WriteString(name)
	b.WriteByte('(')
	for i := 0; i < nargs; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('?')
	}
	b.WriteByte(')')
	return b.String()
}

// Command is one query or statement with its parameters. Params follow
// Rebind: a single struct or map[string]any binds :names, anything else
// is positional.
type Command struct {
	Text    string
	Params  []any
	Kind    CommandKind
	Timeout time.Duration // zero uses the session timeout
	SplitOn string        // multi-mapping boundary columns, default "Id"
}

// SQL returns a text command.
func SQL(text string, params ...any) Command {
	return Command{Text: text, Params: params}
}

// Procedure returns a stored procedure call. A struct or map parameter is
// passed as sql.Named arguments.
func Procedure(name string, params ...any) Command {
	return Command{Text: name, Params: params, Kind: StoredProcedure}
}

func (c Command) WithTimeout(d time.Duration) Command {
	c.Timeout = d
	return c
}

// Split sets the multi-mapping split columns; see QueryMap2.
func (c Command) Split(on string) Command {
	c.SplitOn = on
	return c
}

func (c Command) paramType() reflect.Type {
	if len(c.Params) == 1 && looksBindable(c.Params[0]) {
		return reflect.TypeOf(c.Params[0])
	}
	return nil
}

func (c Command) splitOn() string {
	if c.SplitOn == "" {
		return "Id"
	}
	return c.SplitOn
}

func (s *Session) identity(cmd Command, typ reflect.Type, subTypes ...reflect.Type) Identity {
	return newIdentity(cmd.Text, cmd.Kind, s.desc, typ, cmd.paramType(), subTypes...)
}
