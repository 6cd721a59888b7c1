// Package config loads the bot configuration from a YAML file. JSON files
// in the flat layout of the older tool parse unchanged.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/autoinvite/locator"
	"github.com/hazyhaar/autoinvite/workflow"
)

// Config is the top-level bot configuration.
type Config struct {
	StartURL string `yaml:"start_url"`
	// MaxPages caps the pages processed in one run. 0 means no cap.
	MaxPages int `yaml:"max_pages"`

	Headless         bool     `yaml:"headless"`
	ImplicitWait     Duration `yaml:"implicit_wait"`
	PageLoadTimeout  Duration `yaml:"page_load_timeout"`
	RemoteURL        string   `yaml:"remote_url"`
	UserAgent        string   `yaml:"user_agent"`
	WindowSize       string   `yaml:"window_size"`
	ResourceBlocking []string `yaml:"resource_blocking"`
	XvfbDisplay      string   `yaml:"xvfb_display"`

	MinDelay            Duration `yaml:"min_delay"`
	MaxDelay            Duration `yaml:"max_delay"`
	MaxRetries          int      `yaml:"max_retries"`
	ClickRetryDelay     Duration `yaml:"click_retry_delay"`
	MaxActionsPerMinute int      `yaml:"max_actions_per_minute"`
	ItemDelay           Duration `yaml:"item_delay"`
	PageDelay           Duration `yaml:"page_delay"`
	ScrollDelay         Duration `yaml:"scroll_delay"`

	RecordFile  string `yaml:"record_file"`
	RetryFailed bool   `yaml:"retry_failed"`
	LogFile     string `yaml:"log_file"`
	EventDB     string `yaml:"event_db"`
	// EventRetentionDays prunes older event rows at startup. 0 keeps all.
	EventRetentionDays int `yaml:"event_retention_days"`

	Target TargetConfig `yaml:"target"`
}

// TargetConfig holds the page-specific locators.
type TargetConfig struct {
	Items       LocatorConfig `yaml:"items"`
	Name        LocatorConfig `yaml:"name"`
	IDAttribute string        `yaml:"id_attribute"`
	Steps       []StepConfig  `yaml:"steps"`
	NextPage    LocatorConfig `yaml:"next_page"`
}

// LocatorConfig is a locator as written in the file:
//
//	{by: xpath, value: "//button[contains(text(), 'Send')]", description: send button}
type LocatorConfig struct {
	By          string `yaml:"by"`
	Value       string `yaml:"value"`
	Description string `yaml:"description,omitempty"`
}

// StepConfig is one workflow step.
type StepConfig struct {
	Name          string `yaml:"name"`
	LocatorConfig `yaml:",inline"`
}

// Locator resolves the configured strategy name.
func (l LocatorConfig) Locator() (locator.Locator, error) {
	kind, err := locator.ParseKind(l.By)
	if err != nil {
		return locator.Locator{}, err
	}
	loc := locator.Locator{Kind: kind, Value: l.Value, Description: l.Description}
	if err := loc.Validate(); err != nil {
		return locator.Locator{}, err
	}
	return loc, nil
}

// Default returns the configuration used when a key is absent from the file.
func Default() Config {
	return Config{
		ImplicitWait:    Duration(10 * time.Second),
		PageLoadTimeout: Duration(30 * time.Second),
		WindowSize:      "1920,1080",
		UserAgent:       DefaultUserAgent,
		MinDelay:        Duration(time.Second),
		MaxDelay:        Duration(3 * time.Second),
		MaxRetries:      3,
		ClickRetryDelay: Duration(time.Second),
		ItemDelay:       Duration(2 * time.Second),
		PageDelay:       Duration(2 * time.Second),
		ScrollDelay:     Duration(time.Second),
		RecordFile:      "data/invite_records.json",
		LogFile:         "logs/bot.log",
		XvfbDisplay:     ":99",
	}
}

// DefaultUserAgent is a desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultTarget is the talent square layout of the WeChat store back
// office.
func DefaultTarget() TargetConfig {
	btn := func(text, desc string) LocatorConfig {
		return LocatorConfig{By: "xpath", Value: "//button[contains(text(), '" + text + "')]", Description: desc}
	}
	return TargetConfig{
		Items:       LocatorConfig{By: "css", Value: ".talent-item", Description: "talent card"},
		Name:        LocatorConfig{By: "css", Value: ".talent-name", Description: "talent name"},
		IDAttribute: "data-id",
		Steps: []StepConfig{
			{Name: "open details", LocatorConfig: btn("详情", "details button")},
			{Name: "invite to sell", LocatorConfig: btn("邀请带货", "invite button")},
			{Name: "add last offer", LocatorConfig: btn("添加上次邀约商品", "add last offer button")},
			{Name: "confirm", LocatorConfig: btn("确认", "confirm button")},
			{Name: "send invitation", LocatorConfig: btn("发送邀约", "send invitation button")},
		},
		NextPage: btn("下一页", "next page button"),
	}
}

// LoadFile reads and parses a configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML (or JSON) over Default and fills the target section.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	def := DefaultTarget()
	t := &c.Target
	if t.Items.Value == "" {
		t.Items = def.Items
	}
	if t.Name.Value == "" {
		t.Name = def.Name
	}
	if t.IDAttribute == "" {
		t.IDAttribute = def.IDAttribute
	}
	if len(t.Steps) == 0 {
		t.Steps = def.Steps
	}
	if t.NextPage.Value == "" {
		t.NextPage = def.NextPage
	}
	for _, l := range []*LocatorConfig{&t.Items, &t.Name, &t.NextPage} {
		if l.By == "" {
			l.By = "css"
		}
	}
	for i := range t.Steps {
		if t.Steps[i].By == "" {
			t.Steps[i].By = "xpath"
		}
		if t.Steps[i].Name == "" {
			t.Steps[i].Name = fmt.Sprintf("step %d", i+1)
		}
	}
}

// Validate returns the hard errors, joined, and advisory warnings.
func (c *Config) Validate() (warnings []string, err error) {
	var errs []error
	if c.MaxDelay < c.MinDelay {
		errs = append(errs, fmt.Errorf("max_delay (%s) is below min_delay (%s)", c.MaxDelay, c.MinDelay))
	}
	if strings.TrimSpace(c.RecordFile) == "" {
		errs = append(errs, errors.New("record_file is empty"))
	}
	if c.MaxPages < 0 {
		errs = append(errs, fmt.Errorf("max_pages (%d) is negative", c.MaxPages))
	}
	if len(c.Target.Steps) == 0 {
		errs = append(errs, errors.New("target.steps is empty"))
	}
	if _, err := c.Steps(); err != nil {
		errs = append(errs, err)
	}
	for name, l := range map[string]LocatorConfig{
		"target.items": c.Target.Items, "target.name": c.Target.Name, "target.next_page": c.Target.NextPage,
	} {
		if _, err := l.Locator(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if c.MinDelay < Duration(500*time.Millisecond) {
		warnings = append(warnings, fmt.Sprintf("min_delay %s is short and may look automated (1s or more advised)", c.MinDelay))
	}
	if c.MaxRetries < 1 {
		warnings = append(warnings, fmt.Sprintf("max_retries %d is below 1 and will be treated as 1 (3 advised)", c.MaxRetries))
	}
	if c.StartURL == "" {
		warnings = append(warnings, "start_url is not set; pass -url")
	}
	if c.Target.Items == DefaultTarget().Items {
		warnings = append(warnings, "target.items uses the default selector; check it against the page with -inspect")
	}
	return warnings, errors.Join(errs...)
}

// Steps resolves the configured workflow steps.
func (c *Config) Steps() ([]workflow.Step, error) {
	steps := make([]workflow.Step, 0, len(c.Target.Steps))
	for i, s := range c.Target.Steps {
		loc, err := s.Locator()
		if err != nil {
			return nil, fmt.Errorf("target.steps[%d] (%s): %w", i, s.Name, err)
		}
		if loc.Description == "" {
			loc.Description = s.Name
		}
		steps = append(steps, workflow.Step{Name: s.Name, Action: locator.Click(loc)})
	}
	return steps, nil
}

// Duration accepts Go duration strings ("1.5s", "300ms") or plain numbers
// meaning seconds.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", n.Line)
	}
	v := strings.TrimSpace(n.Value)
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", n.Line, n.Value)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }
