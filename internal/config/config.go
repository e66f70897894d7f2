package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"hackreg/internal/forms"
)

// Config models hackreg.yml: the status table, both field schemas and the
// webhook targets. Static input data supplied at startup; reload is out
// of scope.
type Config struct {
	Registration struct {
		// DefaultStatus is the status code assigned to new applicants.
		DefaultStatus string `yaml:"default_status"`
	} `yaml:"registration"`
	Statuses []forms.StatusEntry `yaml:"statuses"`
	Forms    struct {
		SelfService []FieldConfig `yaml:"self_service"`
		Partner     []FieldConfig `yaml:"partner"`
	} `yaml:"forms"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

// FieldConfig is the YAML shape of one schema field.
type FieldConfig struct {
	ID           string `yaml:"id"`
	FriendlyName string `yaml:"friendly_name"`
	HelpText     string `yaml:"help_text,omitempty"`
	Type         string `yaml:"type,omitempty"`
	Pattern      string `yaml:"pattern,omitempty"`
	Always       bool   `yaml:"always,omitempty"`
	Length       int    `yaml:"length,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

func descriptors(fields []FieldConfig) []forms.FieldDescriptor {
	res := make([]forms.FieldDescriptor, 0, len(fields))
	for _, f := range fields {
		res = append(res, forms.FieldDescriptor{
			ID:           f.ID,
			FriendlyName: f.FriendlyName,
			HelpText:     f.HelpText,
			FormType:     f.Type,
			PatternSrc:   f.Pattern,
			Always:       f.Always,
			MaxLength:    f.Length,
		})
	}
	return res
}

// StatusTable builds the status registry.
func (c *Config) StatusTable() forms.StatusTable {
	return forms.NewStatusTable(c.Statuses)
}

// SelfServiceSchema builds the applicant-facing schema.
func (c *Config) SelfServiceSchema() (*forms.Schema, error) {
	return forms.NewSchema(descriptors(c.Forms.SelfService))
}

// PartnerSchema builds the partner-settable allow-list schema.
func (c *Config) PartnerSchema() (*forms.Schema, error) {
	return forms.NewSchema(descriptors(c.Forms.Partner))
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Statuses) == 0 {
		return fmt.Errorf("config.statuses is required")
	}
	seen := map[string]bool{}
	for _, s := range c.Statuses {
		if len(s.Code) != 1 {
			return fmt.Errorf("status code %q must be a single character", s.Code)
		}
		if seen[s.Code] {
			return fmt.Errorf("duplicate status code %q", s.Code)
		}
		seen[s.Code] = true
		if s.FriendlyName == "" {
			return fmt.Errorf("status %q has no friendly_name", s.Code)
		}
	}
	if c.Registration.DefaultStatus == "" {
		return fmt.Errorf("config.registration.default_status is required")
	}
	if !seen[c.Registration.DefaultStatus] {
		return fmt.Errorf("default_status %q is not a configured status", c.Registration.DefaultStatus)
	}
	selfService, err := c.SelfServiceSchema()
	if err != nil {
		return fmt.Errorf("forms.self_service: %w", err)
	}
	partner, err := c.PartnerSchema()
	if err != nil {
		return fmt.Errorf("forms.partner: %w", err)
	}
	if len(selfService.Fields()) == 0 {
		return fmt.Errorf("forms.self_service must define at least one field")
	}
	// The partner allow-list is never exposed to self-service editing; a
	// shared id would make one schema's rules leak into the other.
	if !forms.Disjoint(selfService, partner) {
		return fmt.Errorf("forms.self_service and forms.partner must not share field ids")
	}
	for _, h := range c.Webhooks {
		if h.URL == "" {
			return fmt.Errorf("webhook with empty url")
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "hackreg.yml")
}

// Load reads and validates config from the workspace, falling back to the
// built-in defaults when no file exists.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("built-in config template invalid: %v", err))
	}
	return cfg
}

// GenerateDefault returns the default config YAML for `config init`.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `registration:
  default_status: o

statuses:
  - code: o
    friendly_name: Open
    help_text: "Applications are still open. Make any changes you want - we'll submit for you when they close."
    editable: true
  - code: p
    friendly_name: Pending
    help_text: "Your application has been submitted. We're still reviewing, so check back often!"
    editable: false
  - code: a
    friendly_name: Accepted
    help_text: "Congrats - you're accepted! Keep an eye on your email for further actions."
    editable: false
  - code: r
    friendly_name: Not Accepted
    help_text: "Unfortunately, we couldn't reserve a spot for you this year. If you think there may have been a mistake, contact the organizers."
    editable: false
  - code: w
    friendly_name: Waitlisted
    help_text: "Sit tight! We're trying to find you a spot. Check back often!"
    editable: false
  - code: t
    friendly_name: Accepted with Travel
    help_text: "Congrats - you're accepted with a travel reimbursement! Keep an eye on your email for further actions."
    editable: false
  - code: n
    friendly_name: Accepted without Travel
    help_text: "Congrats - you're accepted! Unfortunately, we can't compensate you for travel."
    editable: false

forms:
  self_service:
    - id: what_to_learn
      friendly_name: "What do you want to learn?"
      help_text: "Whether it be virtual reality, the internet of things, or your first webpage, let us know what you're interested in learning!"
      type: textarea
    - id: background
      friendly_name: "Your Background"
      help_text: "Tell us a little more about you! How'd you get into tech?"
      type: textarea
      pattern: "^.+$"
    - id: github
      friendly_name: "GitHub URL"
      help_text: "A link to your GitHub profile"
      type: text
      pattern: "^([Hh][Tt][Tt][Pp][Ss]?://)?[Gg][Ii][Tt][Hh][Uu][Bb]\\.com/[\\w]+$"
      length: 128
    - id: website
      friendly_name: "Personal URL"
      help_text: "Could be your website, or a link to something else you're proud of."
      type: text
      pattern: "^([Hh][Tt][Tt][Pp][Ss]?://)?([\\dA-Za-z.-]+)\\.([A-Za-z.]{2,6})([/\\w .-]*)*/?$"
      length: 256
    - id: mac_address
      friendly_name: "MAC Address"
      help_text: "The MAC address of your laptop's wireless card. We need this to connect you to our WIFI."
      type: text
      always: true
      pattern: "^([0-9A-Fa-f]{2}[:-]){5}([0-9A-Fa-f]{2})$"
      length: 17
    - id: team_name
      friendly_name: "Team Name"
      help_text: "Create a team by giving us a team name. Your teammates can all add the same name and get grouped."
      type: text
      always: true
      pattern: "^\\w+$"
      length: 64

  partner:
    - id: external_id
      friendly_name: "Partner ID"
      length: 20
    - id: email
      friendly_name: "Email"
      length: 128
    - id: first_name
      friendly_name: "First Name"
      length: 64
    - id: last_name
      friendly_name: "Last Name"
      length: 64
    - id: gender
      friendly_name: "Gender"
      length: 32
    - id: graduation
      friendly_name: "Graduation"
      length: 32
    - id: major
      friendly_name: "Major"
      length: 128
    - id: phone_number
      friendly_name: "Phone Number"
      length: 32
    - id: school_name
      friendly_name: "School"
      length: 128
    - id: date_of_birth
      friendly_name: "Date of Birth"
      length: 32
    - id: shirt_size
      friendly_name: "Shirt Size"
      length: 8
    - id: special_needs
      friendly_name: "Special Needs"
      type: textarea
    - id: dietary_restrictions
      friendly_name: "Dietary Restrictions"
      type: textarea
    - id: partner_created_at
      friendly_name: "Partner Created At"
      type: static
    - id: partner_updated_at
      friendly_name: "Partner Updated At"
      type: static
`
