package cmds

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"strconv"

	"github.com/go-delve/sgxdbg/pkg/config"
	"github.com/go-delve/sgxdbg/pkg/enclave"
	"github.com/go-delve/sgxdbg/pkg/enclave/symbols"
	"github.com/go-delve/sgxdbg/pkg/logflags"
	"github.com/go-delve/sgxdbg/pkg/proc/linhost"
	"github.com/go-delve/sgxdbg/pkg/terminal"
	"github.com/go-delve/sgxdbg/pkg/version"
	"github.com/spf13/cobra"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// initFile is the path to initialization file.
	initFile string
	// solibSearchPath overrides the solib-search-path configuration option.
	solibSearchPath string
	// sectionReader overrides the section-reader configuration option.
	sectionReader string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const sgxdbgCommandLongDesc = `sgxdbg instruments the SGX enclaves of a running process.

It follows the enclaves the untrusted runtime loads and unloads, marks their
threads as debuggable, produces the commands registering enclave symbols with
a host debugger and measures the peak stack and heap usage of every enclave.

The runtime notifications can be delivered by hand from the terminal, or
scripted with Starlark (see 'help' inside the terminal).`

// New returns an initialized command tree.
func New() (*cobra.Command, error) {
	// Config setup and load.
	var err error
	conf, err = config.LoadConfig()
	if err != nil {
		return nil, err
	}

	rootCommand = &cobra.Command{
		Use:   "sgxdbg",
		Short: "sgxdbg is an enclave introspection tool for SGX applications.",
		Long:  sgxdbgCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'sgxdbg help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'sgxdbg help log').")
	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the terminal.")
	rootCommand.PersistentFlags().StringVar(&solibSearchPath, "solib-search-path", "", "Directory enclave images are looked up in when missing at their recorded path.")
	rootCommand.PersistentFlags().StringVar(&sectionReader, "section-reader", "", `Section table reader, "readelf" or "elf".`)

	// 'attach' subcommand.
	attachCommand := &cobra.Command{
		Use:   "attach pid",
		Short: "Attach to a running process and instrument its enclaves.",
		Long: `Attach to an already running process and instrument its enclaves.

Every enclave already loaded is discovered through the runtime's list of
enclaves and instrumented, then an interactive terminal is started. When the
terminal exits the enclaves are uninstrumented.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a PID")
			}
			return nil
		},
		Run: attachCmd,
	}
	rootCommand.AddCommand(attachCommand)

	// 'usage' subcommand.
	usageCommand := &cobra.Command{
		Use:   "usage pid",
		Short: "Print the peak stack and heap usage of the enclaves of a process.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a PID")
			}
			return nil
		},
		Run: usageCmd,
	}
	rootCommand.AddCommand(usageCommand)

	// 'sections' subcommand.
	sectionsCommand := &cobra.Command{
		Use:   "sections <path/to/enclave> [base]",
		Short: "Print the section table of an enclave image and its symbol commands.",
		Long: `Print the section table of an enclave image.

When a base address is given the add-symbol-file and remove-symbol-file
commands registering the image at that address are printed as well.`,
		Args: cobra.RangeArgs(1, 2),
		Run:  sectionsCmd,
	}
	rootCommand.AddCommand(sectionsCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sgxdbg\n%s\n", version.SgxdbgVersion)
			if log {
				fmt.Println(version.BuildInfo())
			}
		},
	}
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	enclave		Log notification handling and enclave discovery (default)
	memory		Log every read and write of debuggee memory
	symbols		Log section table lookups and symbol commands
	usage		Log stack and heap measurements
	terminal	Log failing terminal commands

The --log-dest flag can be used to redirect log output to a file or a file
descriptor. If the argument of --log-dest is a number it will be interpreted
as a file descriptor, otherwise as a file path.`,
	})

	return rootCommand, nil
}

// sessionConfig builds the configuration of an instrumentation session
// from conf and the command line overrides.
func sessionConfig(conf *config.Config, out io.Writer) (enclave.Config, error) {
	reader := conf.SectionReader
	if sectionReader != "" {
		reader = sectionReader
	}
	var src symbols.SectionSource
	switch reader {
	case "", config.SectionReaderReadelf:
		src = symbols.ReadelfSource{}
	case config.SectionReaderELF:
		src = symbols.ELFSource{}
	default:
		return enclave.Config{}, fmt.Errorf("unknown section reader %q", reader)
	}
	res, err := symbols.NewResolver(src, conf.CacheSize())
	if err != nil {
		return enclave.Config{}, err
	}
	searchPath := conf.SolibSearchPath
	if solibSearchPath != "" {
		searchPath = solibSearchPath
	}
	return enclave.Config{
		TrustedLibraries: conf.Trusted(),
		SolibSearchPath:  searchPath,
		UsageReporting:   conf.Usage(),
		MaxThreads:       conf.ThreadLimit(),
		Resolver:         res,
		Out:              out,
	}, nil
}

func parsePid(arg string) (int, error) {
	pid, err := strconv.Atoi(arg)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid: %s", arg)
	}
	return pid, nil
}

func attachCmd(cmd *cobra.Command, args []string) {
	pid, err := parsePid(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(execute(pid))
}

func execute(pid int) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	host, err := linhost.New(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not attach to pid %d: %v\n", pid, err)
		return 1
	}
	cfg, err := sessionConfig(conf, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	host.SolibSearchPath = cfg.SolibSearchPath
	session, err := enclave.NewSession(host, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := session.Attach(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	term := terminal.New(session, conf)
	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}

func usageCmd(cmd *cobra.Command, args []string) {
	pid, err := parsePid(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer logflags.Close()

	host, err := linhost.New(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not attach to pid %d: %v\n", pid, err)
		os.Exit(1)
	}
	cfg, err := sessionConfig(conf, ioutil.Discard)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := printUsage(os.Stdout, host, cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// printUsage discovers the enclaves of host and writes their usage report to w.
func printUsage(w io.Writer, host enclave.Host, cfg enclave.Config) error {
	cfg.UsageReporting = false
	session, err := enclave.NewSession(host, cfg)
	if err != nil {
		return err
	}
	if err := session.Attach(); err != nil && session.Registry().Len() == 0 {
		return err
	}
	es := session.Registry().All()
	if len(es) == 0 {
		fmt.Fprintln(w, "no enclaves loaded")
		return nil
	}
	for _, e := range es {
		rep, err := session.Usage(e)
		if err != nil {
			return err
		}
		for _, line := range rep.Lines() {
			fmt.Fprintln(w, line)
		}
	}
	return nil
}

func sectionsCmd(cmd *cobra.Command, args []string) {
	cfg, err := sessionConfig(conf, ioutil.Discard)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	var base uint64
	hasBase := len(args) == 2
	if hasBase {
		base, err = strconv.ParseUint(args[1], 0, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid base address: %s\n", args[1])
			os.Exit(1)
		}
	}
	if err := printSections(os.Stdout, cfg.Resolver, args[0], base, hasBase); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// printSections writes the section table of path to w, followed by the
// symbol commands for an image loaded at base if hasBase is set.
func printSections(w io.Writer, res *symbols.Resolver, path string, base uint64, hasBase bool) error {
	secs, err := res.Sections(path)
	if err != nil {
		return err
	}
	for _, sec := range secs {
		fmt.Fprintf(w, "%-24s addr=%#x off=%#x size=%#x\n", sec.Name, sec.Addr, sec.Offset, sec.Size)
	}
	if !hasBase {
		return nil
	}
	add, err := res.Load(path, base)
	if err != nil {
		return err
	}
	rm, err := res.Unload(path, base)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, add)
	fmt.Fprintln(w, rm)
	return nil
}
