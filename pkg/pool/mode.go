package pool

import (
	"fmt"
	"strings"
)

const (
	PropertyPodSpecType      = "PodSpecType"
	PropertyImage            = "Image"
	PropertyMaxMemory        = "MaxMemory"
	PropertyMaxCPU           = "MaxCPU"
	PropertyPrivileged       = "Privileged"
	PropertyEnvironment      = "Environment"
	PropertyPodConfiguration = "PodConfiguration"
	PropertyRemoteFile       = "RemoteFile"
	PropertyRemoteFileType   = "RemoteFileType"
)

type TemplateFormat string

const (
	TemplateFormatYAML TemplateFormat = "yaml"
	TemplateFormatJSON TemplateFormat = "json"
)

// CreationMode selects how the pod of a new instance is described. The set
// of implementations is closed.
type CreationMode interface {
	creationMode()
}

// PropertiesMode builds a single-container pod from profile properties.
type PropertiesMode struct {
	Image      string
	MaxMemory  string
	MaxCPU     string
	Privileged bool
	Env        []string
}

// InlineTemplate renders a pod template carried in the profile itself.
type InlineTemplate struct {
	Document string
}

// RemoteTemplate renders a pod template fetched from URL.
type RemoteTemplate struct {
	URL    string
	Format TemplateFormat
}

func (PropertiesMode) creationMode() {}
func (InlineTemplate) creationMode() {}
func (RemoteTemplate) creationMode() {}

func ParseCreationMode(properties map[string]string) (CreationMode, error) {
	switch kind := strings.TrimSpace(properties[PropertyPodSpecType]); kind {
	case "properties":
		return PropertiesMode{
			Image:      strings.TrimSpace(properties[PropertyImage]),
			MaxMemory:  strings.TrimSpace(properties[PropertyMaxMemory]),
			MaxCPU:     strings.TrimSpace(properties[PropertyMaxCPU]),
			Privileged: strings.EqualFold(strings.TrimSpace(properties[PropertyPrivileged]), "true"),
			Env:        splitLines(properties[PropertyEnvironment]),
		}, nil

	case "yaml":
		doc := properties[PropertyPodConfiguration]
		if strings.TrimSpace(doc) == "" {
			return nil, fmt.Errorf("%w: empty pod configuration", ErrUnsupportedCreationMode)
		}
		return InlineTemplate{Document: doc}, nil

	case "remote":
		url := strings.TrimSpace(properties[PropertyRemoteFile])
		if url == "" {
			return nil, fmt.Errorf("%w: empty remote file", ErrUnsupportedCreationMode)
		}
		format := TemplateFormat(strings.ToLower(strings.TrimSpace(properties[PropertyRemoteFileType])))
		switch format {
		case TemplateFormatYAML, TemplateFormatJSON:
		default:
			return nil, fmt.Errorf("%w: remote file type %q", ErrUnsupportedCreationMode, format)
		}
		return RemoteTemplate{URL: url, Format: format}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCreationMode, kind)
	}
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
