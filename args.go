package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
)

// Args are command line arguments.
type Args struct {
	ConfigFile string
	ServerName string
	SID        string
	Flags      *pflag.FlagSet
}

func getArgs() *Args {
	fs := pflag.NewFlagSet("hugin-ircd", pflag.ContinueOnError)
	configFile := fs.String("conf", "", "Configuration file.")
	serverName := fs.String("server-name", "", "Server name. Overrides server-name from config.")
	sid := fs.String("sid", "", "SID. Overrides ts6-sid from config.")

	if err := fs.Parse(os.Args[1:]); err != nil {
		printUsage(fs, err)
		return nil
	}

	if len(*configFile) == 0 {
		printUsage(fs, fmt.Errorf("you must provide a configuration file"))
		return nil
	}

	configPath, err := filepath.Abs(*configFile)
	if err != nil {
		printUsage(fs, fmt.Errorf(
			"unable to determine path to the configuration file: %s", err))
		return nil
	}

	return &Args{
		ConfigFile: configPath,
		ServerName: *serverName,
		SID:        *sid,
		Flags:      fs,
	}
}

func printUsage(fs *pflag.FlagSet, err error) {
	_, _ = fmt.Fprintf(os.Stderr, "%s\n", err)
	_, _ = fmt.Fprintf(os.Stderr, "Usage: %s <arguments>\n", os.Args[0])
	fs.PrintDefaults()
}
