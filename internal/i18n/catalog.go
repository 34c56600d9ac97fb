// Package i18n resolves user-facing texts. Templates use positional
// placeholders: "{0} at {1}".
package i18n

import (
	"embed"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed texts/*.yaml
var bundled embed.FS

// Supported locales, in matcher preference order. The first one is the
// fallback.
var supported = []language.Tag{language.English, language.Chinese}

var matcher = language.NewMatcher(supported)

var timeLayouts = map[language.Tag]string{
	language.English: "Jan 2, 2006, 3:04:05 PM",
	language.Chinese: "2006/1/2 15:04:05",
}

// Catalog holds the texts for one locale.
type Catalog struct {
	tag      language.Tag
	texts    map[string]string
	location *time.Location
}

// New builds the catalog best matching locale. Entries in overrides replace
// bundled texts.
func New(locale string, overrides map[string]string) (*Catalog, error) {
	tag := Match(locale)
	texts, err := load(tag)
	if err != nil {
		return nil, err
	}
	for k, v := range overrides {
		texts[k] = v
	}
	return &Catalog{tag: tag, texts: texts, location: time.Local}, nil
}

// Match returns the supported tag closest to locale.
func Match(locale string) language.Tag {
	requested, _, err := language.ParseAcceptLanguage(locale)
	if err != nil || len(requested) == 0 {
		return supported[0]
	}
	_, index, _ := matcher.Match(requested...)
	return supported[index]
}

func load(tag language.Tag) (map[string]string, error) {
	base, _ := tag.Base()
	raw, err := bundled.ReadFile(path.Join("texts", base.String()+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("loading texts for %s: %w", tag, err)
	}
	texts := make(map[string]string)
	if err := yaml.Unmarshal(raw, &texts); err != nil {
		return nil, fmt.Errorf("parsing texts for %s: %w", tag, err)
	}
	return texts, nil
}

// WithLocation returns a copy of c that formats times in loc.
func (c *Catalog) WithLocation(loc *time.Location) *Catalog {
	cp := *c
	cp.location = loc
	return &cp
}

// Tag reports the resolved locale.
func (c *Catalog) Tag() language.Tag {
	return c.tag
}

// Text renders the template for key. Unknown keys render as the key itself.
func (c *Catalog) Text(key string, args ...string) string {
	template, ok := c.texts[key]
	if !ok {
		return key
	}
	for i, arg := range args {
		template = strings.ReplaceAll(template, "{"+strconv.Itoa(i)+"}", arg)
	}
	return template
}

// FormatTime renders t in the catalog's locale and location.
func (c *Catalog) FormatTime(t time.Time) string {
	layout, ok := timeLayouts[c.tag]
	if !ok {
		layout = time.DateTime
	}
	return t.In(c.location).Format(layout)
}
