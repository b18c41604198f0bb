package cmd

import (
	"flag"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

func newProfilesCommand() command {
	return command{
		name:        "profiles",
		description: "List configured prescription profiles",
		configure: func(fs *flag.FlagSet) {
			fs.String("show", "", "Print the named profile as YAML")
		},
		run: runProfiles,
	}
}

func runProfiles(fs *flag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}
	coll, err := ctx.Config.Collection()
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}

	if name := stringFlag(fs, "show"); name != "" {
		profile, ok := coll.Get(name)
		if !ok {
			return fmt.Errorf("profile %q not found", name)
		}
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(profile); err != nil {
			return err
		}
		return enc.Close()
	}

	active := coll.ActiveName()
	for _, name := range coll.Names() {
		p, _ := coll.Get(name)
		marker := " "
		if name == active {
			marker = "*"
		}
		fmt.Fprintf(stdout, "%s %-16s L %-22s R %-22s PD %.0f mm\n", marker, name, p.LeftEye, p.RightEye, p.PupillaryDistanceMM)
	}
	return nil
}
