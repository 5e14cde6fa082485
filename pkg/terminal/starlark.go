package terminal

import (
	"github.com/go-delve/sgxdbg/pkg/enclave"
	"github.com/go-delve/sgxdbg/pkg/terminal/starbind"
)

type starlarkContext struct {
	term *Term
}

var _ starbind.Context = starlarkContext{}

func (ctx starlarkContext) Session() *enclave.Session {
	return ctx.term.session
}

func (ctx starlarkContext) RegisterCommand(name, helpMsg string, fn func(args string) error) {
	cmdfn := func(t *Term, args string) error {
		return fn(args)
	}
	ctx.term.cmds.Register(name, cmdfn, helpMsg)
	if ctx.term.line != nil {
		ctx.term.line.SetCompleter(ctx.term.completer())
	}
}

func (ctx starlarkContext) CallCommand(cmdstr string) error {
	return ctx.term.cmds.Call(cmdstr, ctx.term)
}
