// Package terminal implements functions for responding to user
// input and dispatching to the enclave instrumentation session.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"

	"github.com/go-delve/sgxdbg/pkg/enclave"
	"github.com/go-delve/sgxdbg/pkg/enclave/registry"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the sgxdbg terminal.
type Commands struct {
	cmds    []command
	session *enclave.Session
}

// EnclaveCommands returns a Commands struct with default commands defined.
func EnclaveCommands(session *enclave.Session) *Commands {
	c := &Commands{session: session}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"enclaves", "ls"}, group: enclaveCmds, cmdFn: enclaves, helpMsg: `Lists the loaded enclaves.

	enclaves [-v]

With -v the threads of every enclave are listed too.`},
		{aliases: []string{"threads"}, group: enclaveCmds, cmdFn: threads, helpMsg: `Lists the threads of an enclave.

	threads [<base>]

Without arguments the threads of every loaded enclave are listed.`},
		{aliases: []string{"usage"}, group: enclaveCmds, cmdFn: usageCmd, helpMsg: `Prints the peak stack and heap usage of an enclave.

	usage [<base>]

Without arguments every loaded enclave is measured.`},
		{aliases: []string{"sgx_emmt", "emmt"}, group: enclaveCmds, cmdFn: emmt, helpMsg: `Enables or disables the enclave memory measurement report.

	sgx_emmt enable
	sgx_emmt disable
	sgx_emmt show

When enabled the peak stack and heap usage of an enclave is printed when it is unloaded.`},
		{aliases: []string{"load"}, group: notifyCmds, cmdFn: notifyCmd(enclave.Load), helpMsg: `Handles an enclave load notification.

	load [<info>]

<info> is the address of the enclave info record. Without arguments it is read from the first argument register, as if the runtime had raised the notification.`},
		{aliases: []string{"unload"}, group: notifyCmds, cmdFn: notifyCmd(enclave.Unload), helpMsg: `Handles an enclave unload notification.

	unload [<info>]

<info> is the address of the enclave info record. Without arguments it is read from the first argument register.`},
		{aliases: []string{"tcs"}, group: notifyCmds, cmdFn: notifyCmd(enclave.ThreadCreated), helpMsg: `Handles a thread creation notification.

	tcs [<tcs>]

<tcs> is the address of the new thread control structure. Without arguments it is read from the first argument register.`},
		{aliases: []string{"ocall"}, group: notifyCmds, cmdFn: notifyCmd(enclave.OcallFrameUpdate), helpMsg: `Handles an ocall frame update notification.

	ocall [<base> <tcs> <frame>]

Repairs the untrusted ocall frame at <frame> of the thread <tcs> of the enclave loaded at <base>. Without arguments they are read from the argument registers.`},
		{aliases: []string{"exit-process"}, group: notifyCmds, cmdFn: notifyCmd(enclave.ProcessExit), helpMsg: `Handles the exit of the debuggee.

	exit-process

Drops the symbols of every enclave and forgets them.`},
		{aliases: []string{"attach"}, group: sessionCmds, cmdFn: attachCmd, helpMsg: `Instruments every enclave already loaded in the debuggee.

	attach`},
		{aliases: []string{"detach"}, group: sessionCmds, cmdFn: detachCmd, helpMsg: `Disables debugging of every loaded enclave and drops their symbols.

	detach`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of sgxdbg commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark script.

If path is a single '-' character an interactive starlark interpreter will start instead. Type 'exit' to exit.`},
		{aliases: []string{"transcript"}, cmdFn: transcript, helpMsg: `Appends command output to a file.

	transcript [-t] [-x] <output file>
	transcript -off

Output of sgxdbg's command is appended to the specified output file. If '-t' is specified and the output file exists it is truncated. If '-x' is specified output to stdout is suppressed instead.

Using the -off option disables the transcript.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the debugger.

	exit

Debugging is disabled in every loaded enclave before exiting.`},
	}

	return c
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

func split2PartsBySpace(s string) []string {
	v := strings.SplitN(s, " ", 2)
	for i := range v {
		v[i] = strings.TrimSpace(v[i])
	}
	return v
}

// splitArgs splits a command line into words, honoring quotes.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal commandline '%s'", args)
	}
	return v[0], nil
}

// parseAddrs parses every word of args as an address.
func parseAddrs(args string) ([]uint64, error) {
	words, err := splitArgs(args)
	if err != nil {
		return nil, err
	}
	var r []uint64
	for _, w := range words {
		n, err := strconv.ParseUint(w, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an address", w)
		}
		r = append(r, n)
	}
	return r, nil
}

// selectEnclaves returns the enclave loaded at the address in args, or
// every loaded enclave when args is empty.
func selectEnclaves(t *Term, args string) ([]*registry.Enclave, error) {
	addrs, err := parseAddrs(args)
	if err != nil {
		return nil, err
	}
	switch len(addrs) {
	case 0:
		return t.session.Registry().All(), nil
	case 1:
		e, ok := t.session.Registry().Find(addrs[0])
		if !ok {
			return nil, fmt.Errorf("no enclave loaded at %#x", addrs[0])
		}
		return []*registry.Enclave{e}, nil
	}
	return nil, fmt.Errorf("too many arguments")
}

func enclaveType(e *registry.Enclave) string {
	switch {
	case e.Type&registry.TypeSim != 0:
		return "simulation"
	case e.Type&registry.TypeDebug != 0:
		return "debug"
	}
	return "product"
}

func enclaves(t *Term, args string) error {
	verbose := false
	switch args {
	case "":
	case "-v":
		verbose = true
	default:
		return fmt.Errorf("unknown argument %q", args)
	}
	es := t.session.Registry().All()
	if len(es) == 0 {
		fmt.Fprintln(t.stdout, "No enclaves loaded.")
		return nil
	}
	if !t.dumb {
		t.stdout.pw.PageMaybe(nil)
	}
	for _, e := range es {
		symbols := "symbols not loaded"
		if e.SymbolHandle != 0 {
			symbols = fmt.Sprintf("symbols at %#x", e.SymbolHandle)
		}
		t.Println("* ", fmt.Sprintf("%s %s, %s", e, enclaveType(e), symbols))
		if verbose {
			if err := printThreads(t, e, "\t"); err != nil {
				return err
			}
		}
	}
	return nil
}

func printThreads(t *Term, e *registry.Enclave, ind string) error {
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	fmt.Fprintf(w, "%sTCS\tthread data\tstack base\tstack limit\tlast SP\tlast ocall frame\n", ind)
	for _, th := range e.Threads {
		fmt.Fprintf(w, "%s%#x\t%#x\t%#x\t%#x\t%#x\t%#x\n", ind, th.TCS, th.ThreadData, th.StackBase, th.StackLimit, th.LastSP, th.LastOcallFrame)
	}
	return w.Flush()
}

func threads(t *Term, args string) error {
	es, err := selectEnclaves(t, args)
	if err != nil {
		return err
	}
	for _, e := range es {
		t.Println("* ", e.String())
		if err := printThreads(t, e, ""); err != nil {
			return err
		}
	}
	return nil
}

func usageCmd(t *Term, args string) error {
	es, err := selectEnclaves(t, args)
	if err != nil {
		return err
	}
	for _, e := range es {
		rep, err := t.session.Usage(e)
		if err != nil {
			return err
		}
		for _, line := range rep.Lines() {
			fmt.Fprintln(t.stdout, line)
		}
	}
	return nil
}

func emmt(t *Term, args string) error {
	switch args {
	case "enable":
		t.session.EnableUsageReporting(true)
	case "disable":
		t.session.EnableUsageReporting(false)
	case "show", "":
	default:
		return fmt.Errorf("unknown argument %q, expected enable, disable or show", args)
	}
	if t.session.UsageReporting() {
		fmt.Fprintln(t.stdout, "sgx_emmt enabled")
	} else {
		fmt.Fprintln(t.stdout, "sgx_emmt disabled")
	}
	return nil
}

// notifyCmd returns a command delivering notifications of kind k. The
// arguments of the notification are taken from the command line when
// present and from the registers otherwise.
func notifyCmd(k enclave.Kind) cmdfunc {
	return func(t *Term, args string) error {
		addrs, err := parseAddrs(args)
		if err != nil {
			return err
		}
		res := t.session.Notify(enclave.Notification{Kind: k, Args: addrs})
		return printResult(t, k, res)
	}
}

func printResult(t *Term, k enclave.Kind, res enclave.Result) error {
	switch res.Outcome {
	case enclave.Handled:
		t.printColor(ansiGreen, res.Outcome.String(), " "+k.String())
	case enclave.Ignored:
		t.printColor(ansiYellow, res.Outcome.String(), " "+k.String()+": not raised by a trusted library")
	case enclave.Skipped:
		t.printColor(ansiYellow, res.Outcome.String(), " "+k.String())
	case enclave.Failed:
		t.printColor(ansiRed, res.Outcome.String(), " "+k.String())
		return res.Err
	}
	return nil
}

func attachCmd(t *Term, args string) error {
	if err := t.session.Attach(); err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%d enclaves instrumented\n", t.session.Registry().Len())
	return nil
}

func detachCmd(t *Term, args string) error {
	return t.session.Detach()
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(args) == ".star" {
		_, err := t.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	if args == "-" {
		return t.starlarkEnv.REPL()
	}

	return c.executeFile(t, args)
}

func transcript(t *Term, args string) error {
	words := strings.Split(args, " ")
	truncate := false
	fileOnly := false
	disable := false
	path := ""
	for _, arg := range words {
		switch arg {
		case "-x":
			fileOnly = true
		case "-t":
			truncate = true
		case "-off":
			disable = true
		case "":
		default:
			if path != "" || strings.HasPrefix(arg, "-") {
				return fmt.Errorf("unrecognized option %q", arg)
			}
			path = arg
		}
	}

	if disable {
		if path != "" {
			return errors.New("-off option specified with an output path")
		}
		return t.stdout.CloseTranscript()
	}

	if path == "" {
		return errors.New("no output path specified")
	}

	flags := os.O_APPEND | os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	fh, err := os.OpenFile(path, flags, 0660)
	if err != nil {
		return err
	}

	if err := t.stdout.CloseTranscript(); err != nil {
		return err
	}

	t.stdout.TranscribeTo(fh, fileOnly)
	return nil
}

// ExitRequestError is returned when the user
// exits sgxdbg.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
