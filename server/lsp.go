package server

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/yarvil/config"
	"github.com/chazu/yarvil/ilgen"
	"github.com/chazu/yarvil/jit"
	"github.com/chazu/yarvil/yarv"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "yarvil-lsp"

// LspServer checks YAML method files as they are edited: parse errors and
// translation aborts become diagnostics, and opcode names complete and
// hover.
type LspServer struct {
	worker *Worker
	cfg    *config.Config
	env    *ilgen.Env

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server. A nil cfg means defaults.
func NewLSP(cfg *config.Config) *LspServer {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &LspServer{
		worker:  NewWorker(),
		cfg:     cfg,
		env:     ilgen.NewEnv(),
		docs:    make(map[string]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "yarvil LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return complete(prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return hover(text, word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	line, ok := labelLine(text, word)
	if !ok {
		return nil, nil
	}
	return []protocol.Location{lineLocation(uri, line)}, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	var locations []protocol.Location
	if params.Context.IncludeDeclaration {
		if line, ok := labelLine(text, word); ok {
			locations = append(locations, lineLocation(uri, line))
		}
	}
	for _, line := range labelUses(text, word) {
		locations = append(locations, lineLocation(uri, line))
	}
	return locations, nil
}

// complete returns the instructions whose names start with prefix.
func complete(prefix string) []protocol.CompletionItem {
	kind := protocol.CompletionItemKindKeyword
	var items []protocol.CompletionItem
	for _, name := range yarv.Names() {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		op, _ := yarv.Lookup(name)
		detail := operandDetail(op)
		items = append(items, protocol.CompletionItem{
			Label:  name,
			Kind:   &kind,
			Detail: &detail,
		})
	}
	return items
}

func operandDetail(op yarv.Opcode) string {
	if ops := op.Info().Operands; ops != "" {
		return fmt.Sprintf("%s (%s)", op.Name(), ops)
	}
	return op.Name()
}

// hover describes an instruction or a label.
func hover(text, word string) *protocol.Hover {
	var b strings.Builder
	if op, ok := yarv.Lookup(word); ok {
		fmt.Fprintf(&b, "**%s**\n\n", op.Name())
		if ops := op.Info().Operands; ops != "" {
			fmt.Fprintf(&b, "Operands: `%s`\n\n", ops)
		} else {
			b.WriteString("No operands\n\n")
		}
		if ilgen.Supported(op) {
			b.WriteString("Translated to IL.")
		} else {
			b.WriteString("Not translated: methods using it stay in the interpreter.")
		}
	} else if line, ok := labelLine(text, word); ok {
		fmt.Fprintf(&b, "label **%s**, defined on line %d, %d uses", word, line+1, len(labelUses(text, word)))
	} else {
		return nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

func lineLocation(uri protocol.DocumentUri, line int) protocol.Location {
	pos := protocol.Position{Line: protocol.UInteger(line)}
	return protocol.Location{URI: uri, Range: protocol.Range{Start: pos, End: pos}}
}

// codeEntry returns the text of a "- entry" list item, unquoted.
func codeEntry(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "- ") {
		return "", false
	}
	entry := strings.TrimSpace(trimmed[2:])
	if unq, err := strconv.Unquote(entry); err == nil {
		entry = unq
	} else {
		entry = strings.Trim(entry, "'")
	}
	return entry, true
}

// labelLine finds the zero-based line defining label name.
func labelLine(text, name string) (int, bool) {
	if name == "" {
		return 0, false
	}
	for i, line := range strings.Split(text, "\n") {
		if entry, ok := codeEntry(line); ok && entry == name+":" {
			return i, true
		}
	}
	return 0, false
}

// labelUses finds the zero-based lines of instructions naming label name.
func labelUses(text, name string) []int {
	var lines []int
	for i, line := range strings.Split(text, "\n") {
		entry, ok := codeEntry(line)
		if !ok || strings.HasSuffix(entry, ":") {
			continue
		}
		fields := strings.Fields(entry)
		if len(fields) < 2 {
			continue
		}
		if op, ok := yarv.Lookup(fields[0]); ok && op.IsBranch() && fields[1] == name {
			lines = append(lines, i)
		}
	}
	return lines
}

// instructionLine finds the zero-based line of the first instruction named
// op.
func instructionLine(text, op string) int {
	for i, line := range strings.Split(text, "\n") {
		if entry, ok := codeEntry(line); ok {
			if fields := strings.Fields(entry); len(fields) > 0 && fields[0] == op {
				return i
			}
		}
	}
	return 0
}

// --- Diagnostics ---

var errorLine = regexp.MustCompile(`line (\d+):`)

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	diagnostics := s.check(text)
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// check assembles and translates a method file and reports what went
// wrong. A clean file has no diagnostics.
func (s *LspServer) check(text string) []protocol.Diagnostic {
	iseq, err := yarv.ParseYAML([]byte(text))
	if err != nil {
		line := 0
		if m := errorLine.FindStringSubmatch(err.Error()); m != nil {
			n, _ := strconv.Atoi(m[1])
			line = max(n-1, 0)
		}
		return []protocol.Diagnostic{diagnostic(line, protocol.DiagnosticSeverityError, err.Error())}
	}

	result, err := s.worker.Do(func() any {
		_, err := jit.Translate(iseq, s.cfg, jit.WithEnv(s.env))
		return err
	})
	if err != nil {
		return []protocol.Diagnostic{diagnostic(0, protocol.DiagnosticSeverityError, err.Error())}
	}
	if result == nil {
		return nil
	}

	terr := result.(error)
	var abort *ilgen.AbortError
	switch {
	case errors.As(terr, &abort):
		line := 0
		if abort.Reason == ilgen.ReasonUnsupportedInstruction {
			line = instructionLine(text, abort.SubReason)
		}
		return []protocol.Diagnostic{diagnostic(line, protocol.DiagnosticSeverityWarning, abort.Message)}
	case errors.Is(terr, jit.ErrComplexArguments):
		return []protocol.Diagnostic{diagnostic(0, protocol.DiagnosticSeverityWarning, terr.Error())}
	default:
		return []protocol.Diagnostic{diagnostic(0, protocol.DiagnosticSeverityError, terr.Error())}
	}
}

func diagnostic(line int, severity protocol.DiagnosticSeverity, message string) protocol.Diagnostic {
	source := lspName
	pos := protocol.Position{Line: protocol.UInteger(line)}
	return protocol.Diagnostic{
		Range:    protocol.Range{Start: pos, End: pos},
		Severity: &severity,
		Source:   &source,
		Message:  message,
	}
}

// --- Text extraction helpers ---

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := min(int(pos.Character), len(line))

	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := min(int(pos.Character), len(line))

	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}
	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
