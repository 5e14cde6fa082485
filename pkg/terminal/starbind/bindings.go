package starbind

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/go-delve/sgxdbg/pkg/enclave"
)

// unpackArgs assigns positional and keyword arguments to dsts, in the
// order given by names.
func unpackArgs(args starlark.Tuple, kwargs []starlark.Tuple, names []string, dsts ...interface{}) error {
	if len(args) > len(names) {
		return fmt.Errorf("too many arguments")
	}
	for i := range args {
		if args[i] == starlark.None {
			continue
		}
		if err := unmarshalStarlarkValue(args[i], dsts[i], names[i]); err != nil {
			return err
		}
	}
	for _, kv := range kwargs {
		name, _ := kv[0].(starlark.String)
		found := false
		for i := range names {
			if names[i] == string(name) {
				if err := unmarshalStarlarkValue(kv[1], dsts[i], names[i]); err != nil {
					return err
				}
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown argument %q", kv[0])
		}
	}
	return nil
}

func (env *Env) starlarkPredeclare() (starlark.StringDict, map[string]string) {
	r := starlark.StringDict{}
	doc := make(map[string]string)

	r["enclaves"] = starlark.NewBuiltin("enclaves", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		return env.interfaceToStarlarkValue(env.ctx.Session().Registry().All()), nil
	})
	doc["enclaves"] = "builtin enclaves()\n\nenclaves returns the loaded enclaves, sorted by base address."

	r["enclave"] = starlark.NewBuiltin("enclave", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		var base uint64
		if err := unpackArgs(args, kwargs, []string{"Base"}, &base); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		e, ok := env.ctx.Session().Registry().Find(base)
		if !ok {
			return starlark.None, nil
		}
		return env.interfaceToStarlarkValue(e), nil
	})
	doc["enclave"] = "builtin enclave(Base)\n\nenclave returns the enclave loaded at Base, or None."

	r["registrations"] = starlark.NewBuiltin("registrations", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		return env.interfaceToStarlarkValue(env.ctx.Session().Registrations()), nil
	})
	doc["registrations"] = "builtin registrations()\n\nregistrations returns the base addresses of the enclaves whose symbols are loaded."

	r["usage"] = starlark.NewBuiltin("usage", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		var base uint64
		if err := unpackArgs(args, kwargs, []string{"Base"}, &base); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		s := env.ctx.Session()
		e, ok := s.Registry().Find(base)
		if !ok {
			return starlark.None, decorateError(thread, fmt.Errorf("no enclave at %#x", base))
		}
		rep, err := s.Usage(e)
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		return env.interfaceToStarlarkValue(rep), nil
	})
	doc["usage"] = "builtin usage(Base)\n\nusage measures the peak stack and heap usage of the enclave loaded at Base."

	r["usage_reporting"] = starlark.NewBuiltin("usage_reporting", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var enable *bool
		if err := unpackArgs(args, kwargs, []string{"Enable"}, &enable); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		s := env.ctx.Session()
		if enable != nil {
			s.EnableUsageReporting(*enable)
		}
		return starlark.Bool(s.UsageReporting()), nil
	})
	doc["usage_reporting"] = "builtin usage_reporting(Enable)\n\nusage_reporting returns whether the usage report is printed on unload, changing it first if Enable is given."

	r["notify"] = starlark.NewBuiltin("notify", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		var (
			kind  string
			nargs []uint64
		)
		if err := unpackArgs(args, kwargs, []string{"Kind", "Args"}, &kind, &nargs); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		k, err := enclave.ParseKind(kind)
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		res := env.ctx.Session().Notify(enclave.Notification{Kind: k, Args: nargs})
		return env.interfaceToStarlarkValue(res), nil
	})
	doc["notify"] = "builtin notify(Kind, Args)\n\nnotify delivers a notification to the session as if the runtime had raised it.\nKind is one of \"load\", \"unload\", \"thread-created\", \"ocall-frame-update\" or\n\"process-exit\". When Args is omitted the arguments are read from the registers."

	r["attach"] = starlark.NewBuiltin("attach", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		return starlark.None, decorateError(thread, env.ctx.Session().Attach())
	})
	doc["attach"] = "builtin attach()\n\nattach instruments every enclave already loaded in the debuggee."

	r["detach"] = starlark.NewBuiltin("detach", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		return starlark.None, decorateError(thread, env.ctx.Session().Detach())
	})
	doc["detach"] = "builtin detach()\n\ndetach disables debugging of every loaded enclave and drops their symbols."

	return r, doc
}
