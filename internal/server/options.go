package server

import (
	"fmt"
	"strings"

	"example.com/edfgate/internal/config"
	"example.com/edfgate/internal/report"
	"example.com/edfgate/internal/rules"
)

// Options configures server creation. RulePack is evaluated when a request
// does not carry its own pack; an empty pack selects the built-in one. When
// AuditLog is set every applied edit is appended to it.
type Options struct {
	StorageDir  string
	RulePack    rules.RulePack
	RuleSource  rules.RulePackSource
	Lang        report.Language
	ReportTitle string
	QRSize      int
	Separator   string
	AuditLog    string
	Concurrency int
}

// OptionsFromConfig resolves the rule pack and report settings of cfg.
func OptionsFromConfig(cfg config.Config) (Options, error) {
	lang, err := report.ParseLanguage(cfg.Lang)
	if err != nil {
		return Options{}, err
	}
	var repo *rules.Repository
	if strings.TrimSpace(cfg.RuleRepo) != "" {
		repo, err = rules.OpenRepository(cfg.RuleRepo)
	} else {
		repo, err = rules.DefaultRepository()
	}
	if err != nil {
		return Options{}, fmt.Errorf("open rule repository: %w", err)
	}
	rp, source, err := rules.Resolve(repo, cfg.Rules, rules.DefaultRulePack().Profile)
	if err != nil {
		return Options{}, fmt.Errorf("resolve rule pack: %w", err)
	}
	return Options{
		StorageDir:  cfg.Server.StorageDir,
		RulePack:    rp,
		RuleSource:  source,
		Lang:        lang,
		ReportTitle: cfg.Report.Title,
		QRSize:      cfg.Report.QRSize,
		Separator:   cfg.Separator,
		AuditLog:    cfg.AuditLog,
	}, nil
}

func (o Options) withDefaults() Options {
	if len(o.RulePack.Rules) == 0 {
		o.RulePack = rules.DefaultRulePack()
		o.RuleSource = rules.RulePackSource{Builtin: true, RulePackId: o.RulePack.RulePackId, Version: o.RulePack.Version}
	}
	if o.Lang == "" {
		o.Lang = report.LangEnglish
	}
	if o.QRSize <= 0 {
		o.QRSize = 256
	}
	if o.Separator == "" {
		o.Separator = ","
	}
	return o
}
