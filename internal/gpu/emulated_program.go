package gpu

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	kernelDeclRe = regexp.MustCompile(`(?:__kernel|\bkernel)\s+void\s+([A-Za-z_]\w*)\s*\(([^)]*)\)`)
	defineRe     = regexp.MustCompile(`(?m)^[ \t]*#[ \t]*define[ \t]+([A-Za-z_]\w*)(?:[ \t]+([^\n]*?))?[ \t]*$`)
	identRe      = regexp.MustCompile(`^[A-Za-z_]\w*$`)
)

type paramDecl struct {
	Name    string
	Type    string
	Global  bool
	Pointer bool
}

type kernelDecl struct {
	Name   string
	Params []paramDecl
	Line   int
}

// emulatedProgram checks OpenCL C source for structure and kernel
// signatures, then binds each declared kernel to its native implementation.
// It does not evaluate kernel bodies.
type emulatedProgram struct {
	ctx      *emulatedContext
	source   string
	decls    map[string]kernelDecl
	defines  map[string]string
	log      string
	built    bool
	released bool
}

func (p *emulatedProgram) Build(devices []Device, options string) error {
	if p.released {
		return errors.New("emulated: program released")
	}
	for i, d := range devices {
		if !p.ctx.owns(d) {
			return fmt.Errorf("emulated: build device %d is not part of the program's context", i)
		}
	}

	p.built = false
	b := &buildLog{}
	src := stripComments(p.source)
	checkBalanced(b, src)

	defines := make(map[string]string)
	for _, m := range defineRe.FindAllStringSubmatch(src, -1) {
		defines[m[1]] = strings.TrimSpace(m[2])
	}
	parseBuildOptions(b, options, defines)

	decls := make(map[string]kernelDecl)
	for _, idx := range kernelDeclRe.FindAllStringSubmatchIndex(src, -1) {
		decl := kernelDecl{
			Name: src[idx[2]:idx[3]],
			Line: lineOf(src, idx[0]),
		}
		decl.Params = parseParams(b, decl, src[idx[4]:idx[5]])
		if _, dup := decls[decl.Name]; dup {
			b.errorf(decl.Line, "redefinition of kernel '%s'", decl.Name)
			continue
		}
		native, ok := nativeKernels[decl.Name]
		if !ok {
			b.errorf(decl.Line, "kernel '%s' has no implementation on the emulated device", decl.Name)
		} else if native.Params != len(decl.Params) {
			b.errorf(decl.Line, "kernel '%s' declares %d parameters, the emulated implementation takes %d",
				decl.Name, len(decl.Params), native.Params)
		}
		decls[decl.Name] = decl
	}
	if len(decls) == 0 && len(b.lines) == 0 {
		b.errorf(0, "no __kernel functions found in program")
	}

	if len(b.lines) > 0 {
		p.log = b.String()
		return fmt.Errorf("emulated: build program failure (%d errors)", len(b.lines))
	}
	p.log = ""
	p.decls = decls
	p.defines = defines
	p.built = true
	return nil
}

func (p *emulatedProgram) BuildLog() string { return p.log }

func (p *emulatedProgram) CreateKernel(name string) (Kernel, error) {
	if p.released {
		return nil, errors.New("emulated: program released")
	}
	if !p.built {
		return nil, errors.New("emulated: program has not been built")
	}
	decl, ok := p.decls[name]
	if !ok {
		return nil, fmt.Errorf("emulated: invalid kernel name %q", name)
	}
	p.ctx.retain()
	return &emulatedKernel{
		program: p,
		decl:    decl,
		native:  nativeKernels[name],
		args:    make([]*emulatedBuffer, len(decl.Params)),
	}, nil
}

func (p *emulatedProgram) Release() error {
	if p.released {
		return errors.New("emulated: program already released")
	}
	p.released = true
	p.ctx.drop()
	return nil
}

type emulatedKernel struct {
	program  *emulatedProgram
	decl     kernelDecl
	native   nativeKernel
	args     []*emulatedBuffer
	released bool
}

func (k *emulatedKernel) Name() string { return k.decl.Name }

func (k *emulatedKernel) NumArgs() (int, error) {
	if k.released {
		return 0, errors.New("emulated: kernel released")
	}
	return len(k.decl.Params), nil
}

func (k *emulatedKernel) SetArgBuffer(index int, b Buffer) error {
	if k.released {
		return errors.New("emulated: kernel released")
	}
	if index < 0 || index >= len(k.args) {
		return fmt.Errorf("emulated: invalid argument index %d (kernel %s takes %d)", index, k.decl.Name, len(k.args))
	}
	param := k.decl.Params[index]
	if !param.Global || !param.Pointer {
		return fmt.Errorf("emulated: argument %d (%s) is not a __global pointer", index, param.Name)
	}
	eb, ok := b.(*emulatedBuffer)
	if !ok || eb == nil {
		return fmt.Errorf("emulated: invalid buffer %T for argument %d", b, index)
	}
	if eb.released {
		return fmt.Errorf("emulated: buffer for argument %d is released", index)
	}
	if eb.ctx != k.program.ctx {
		return fmt.Errorf("emulated: buffer for argument %d belongs to another context", index)
	}
	k.args[index] = eb
	return nil
}

func (k *emulatedKernel) Release() error {
	if k.released {
		return errors.New("emulated: kernel already released")
	}
	k.released = true
	k.program.ctx.drop()
	return nil
}

type buildLog struct {
	lines []string
}

func (b *buildLog) errorf(line int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if line > 0 {
		b.lines = append(b.lines, fmt.Sprintf("<source>:%d: error: %s", line, msg))
		return
	}
	b.lines = append(b.lines, "error: "+msg)
}

func (b *buildLog) String() string {
	return strings.Join(b.lines, "\n") + "\n"
}

// stripComments blanks out comments, keeping newlines so line numbers in the
// build log still match the unstripped source.
func stripComments(src string) string {
	out := []byte(src)
	for i := 0; i < len(out); i++ {
		switch {
		case out[i] == '"':
			for i++; i < len(out) && out[i] != '"' && out[i] != '\n'; i++ {
				if out[i] == '\\' {
					i++
				}
			}
		case out[i] == '/' && i+1 < len(out) && out[i+1] == '/':
			for ; i < len(out) && out[i] != '\n'; i++ {
				out[i] = ' '
			}
		case out[i] == '/' && i+1 < len(out) && out[i+1] == '*':
			out[i], out[i+1] = ' ', ' '
			for i += 2; i < len(out); i++ {
				if out[i] == '*' && i+1 < len(out) && out[i+1] == '/' {
					out[i], out[i+1] = ' ', ' '
					i++
					break
				}
				if out[i] != '\n' {
					out[i] = ' '
				}
			}
		}
	}
	return string(out)
}

func checkBalanced(b *buildLog, src string) {
	type open struct {
		ch   byte
		line int
	}
	var stack []open
	closer := map[byte]byte{'}': '{', ')': '(', ']': '['}
	line := 1
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch c {
		case '\n':
			line++
		case '{', '(', '[':
			stack = append(stack, open{c, line})
		case '}', ')', ']':
			if len(stack) == 0 || stack[len(stack)-1].ch != closer[c] {
				b.errorf(line, "unexpected '%c'", c)
				return
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		top := stack[len(stack)-1]
		b.errorf(top.line, "unterminated '%c' at end of input", top.ch)
	}
}

// parseBuildOptions applies -D definitions over the source defaults and
// rejects options the compiler would not accept.
func parseBuildOptions(b *buildLog, options string, defines map[string]string) {
	fields := strings.Fields(options)
	for i := 0; i < len(fields); i++ {
		opt := fields[i]
		switch {
		case opt == "-D" || opt == "-I":
			if i+1 >= len(fields) {
				b.errorf(0, "option '%s' requires an argument", opt)
				return
			}
			i++
			if opt == "-D" {
				addDefine(b, fields[i], defines)
			}
		case strings.HasPrefix(opt, "-D"):
			addDefine(b, opt[2:], defines)
		case strings.HasPrefix(opt, "-I"),
			strings.HasPrefix(opt, "-cl-"),
			opt == "-w",
			opt == "-Werror":
		default:
			b.errorf(0, "invalid build option '%s'", opt)
		}
	}
}

func addDefine(b *buildLog, def string, defines map[string]string) {
	name, value, ok := strings.Cut(def, "=")
	if !ok {
		value = "1"
	}
	if !identRe.MatchString(name) {
		b.errorf(0, "invalid macro name '%s' in -D option", name)
		return
	}
	defines[name] = value
}

func parseParams(b *buildLog, decl kernelDecl, list string) []paramDecl {
	list = strings.TrimSpace(list)
	if list == "" || list == "void" {
		return nil
	}
	var params []paramDecl
	for _, raw := range strings.Split(list, ",") {
		fields := strings.Fields(strings.ReplaceAll(raw, "*", " * "))
		if len(fields) < 2 {
			b.errorf(decl.Line, "malformed parameter '%s' in kernel '%s'", strings.TrimSpace(raw), decl.Name)
			continue
		}
		p := paramDecl{Name: fields[len(fields)-1]}
		var typ []string
		for _, f := range fields[:len(fields)-1] {
			switch f {
			case "__global", "global":
				p.Global = true
			case "*":
				p.Pointer = true
			case "const", "__const", "restrict", "__restrict":
			default:
				typ = append(typ, f)
			}
		}
		p.Type = strings.Join(typ, " ")
		if !identRe.MatchString(p.Name) || p.Type == "" {
			b.errorf(decl.Line, "malformed parameter '%s' in kernel '%s'", strings.TrimSpace(raw), decl.Name)
			continue
		}
		params = append(params, p)
	}
	return params
}

func lineOf(src string, offset int) int {
	return strings.Count(src[:offset], "\n") + 1
}
