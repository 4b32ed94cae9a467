package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"example.com/edfgate/internal/config"
	"example.com/edfgate/internal/rules"
)

func rulepackCmd(cfg config.Config, args []string) {
	if len(args) == 0 {
		rulepackUsage()
		os.Exit(1)
	}
	sub := args[0]
	switch sub {
	case "install":
		rulepackInstallCmd(cfg, args[1:])
	case "list":
		rulepackListCmd(cfg, args[1:])
	case "remove":
		rulepackRemoveCmd(cfg, args[1:])
	case "set-default":
		rulepackSetDefaultCmd(cfg, args[1:])
	default:
		fmt.Println("unknown rulepack subcommand")
		rulepackUsage()
		os.Exit(1)
	}
}

func rulepackUsage() {
	fmt.Println("rulepack commands:")
	fmt.Println("  install --file <rulepack.json|package.zip>")
	fmt.Println("  list")
	fmt.Println("  remove --id <rulepack> --version <version>")
	fmt.Println("  set-default --profile <profile> --id <rulepack> --version <version>")
}

func repositoryOrExit(cfg config.Config) *rules.Repository {
	repo, err := openRepository(cfg)
	if err != nil {
		fmt.Println("open repository:", err)
		os.Exit(1)
	}
	return repo
}

func rulepackInstallCmd(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("rulepack install", flag.ExitOnError)
	file := fs.String("file", "", "rulepack.json or a .zip holding one")
	fs.Parse(args)

	if *file == "" {
		fmt.Println("required: --file")
		os.Exit(1)
	}
	repo := repositoryOrExit(cfg)
	installed, err := repo.Install(*file)
	if err != nil {
		fmt.Println("install rule pack:", err)
		os.Exit(1)
	}
	fmt.Printf("Installed %s@%s (profile %s)\n", installed.RulePack.RulePackId, installed.RulePack.Version, installed.RulePack.Profile)
}

func rulepackListCmd(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("rulepack list", flag.ExitOnError)
	fs.Parse(args)
	repo := repositoryOrExit(cfg)
	entries, err := repo.ListInstalled()
	if err != nil {
		fmt.Println("list rule packs:", err)
		os.Exit(1)
	}
	defaults, err := repo.Defaults()
	if err != nil {
		fmt.Println("load defaults:", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Println("No rule packs installed")
		return
	}
	byKey := make(map[string][]string)
	for profile, ref := range defaults {
		byKey[ref.String()] = append(byKey[ref.String()], profile)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVERSION\tPROFILE\tRULES\tDEFAULT FOR")
	for _, entry := range entries {
		ref := rules.RulePackRef{RulePackId: entry.RulePack.RulePackId, Version: entry.RulePack.Version}
		profiles := byKey[ref.String()]
		sort.Strings(profiles)
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			entry.RulePack.RulePackId,
			entry.RulePack.Version,
			entry.RulePack.Profile,
			len(entry.RulePack.Rules),
			strings.Join(profiles, ","),
		)
	}
	w.Flush()
}

func rulepackRemoveCmd(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("rulepack remove", flag.ExitOnError)
	id := fs.String("id", "", "rule pack identifier")
	version := fs.String("version", "", "rule pack version")
	fs.Parse(args)

	if *id == "" || *version == "" {
		fmt.Println("required: --id, --version")
		os.Exit(1)
	}
	repo := repositoryOrExit(cfg)
	if err := repo.Remove(*id, *version); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("rule pack not found")
		} else {
			fmt.Println("remove rule pack:", err)
		}
		os.Exit(1)
	}
	fmt.Printf("Removed %s@%s\n", *id, *version)
}

func rulepackSetDefaultCmd(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("rulepack set-default", flag.ExitOnError)
	profile := fs.String("profile", rules.DefaultRulePack().Profile, "profile name")
	id := fs.String("id", "", "rule pack identifier")
	version := fs.String("version", "", "rule pack version")
	fs.Parse(args)

	if *profile == "" || *id == "" || *version == "" {
		fmt.Println("required: --profile, --id, --version")
		os.Exit(1)
	}
	repo := repositoryOrExit(cfg)
	rp, _, err := repo.Load(*id, *version)
	if err != nil {
		fmt.Println("load rule pack:", err)
		os.Exit(1)
	}
	if rp.Profile != "" && rp.Profile != *profile {
		fmt.Printf("Warning: rule pack profile is %s\n", rp.Profile)
	}
	if err := repo.SetDefaultForProfile(*profile, rules.RulePackRef{RulePackId: *id, Version: *version}); err != nil {
		fmt.Println("set default:", err)
		os.Exit(1)
	}
	fmt.Printf("Default for profile %s set to %s@%s\n", *profile, *id, *version)
}
