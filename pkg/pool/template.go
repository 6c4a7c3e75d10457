package pool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"text/template"

	"github.com/oursky/kube-agent-pool/pkg/utils/httputil"

	"github.com/Masterminds/sprig/v3"
	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/yaml"
)

const maxTemplateSize = 1 << 20

func (f *Factory) templateFuncs() template.FuncMap {
	podPostfix := uuid.NewString()
	containerPostfix := strconv.FormatInt(f.clock.Now().UnixMilli(), 10)

	funcs := sprig.TxtFuncMap()
	funcs["POD_POSTFIX"] = func() string { return podPostfix }
	funcs["CONTAINER_POSTFIX"] = func() string { return containerPostfix }
	funcs["GOCD_AGENT_IMAGE"] = f.config.GetDefaultAgentImage
	funcs["LATEST_VERSION"] = f.config.GetDefaultAgentVersion
	return funcs
}

func (f *Factory) render(doc string) ([]byte, error) {
	tpl, err := template.New("pod").
		Funcs(f.templateFuncs()).
		Option("missingkey=error").
		Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("parse pod template: %w", err)
	}

	var buf bytes.Buffer
	if err := tpl.Execute(&buf, nil); err != nil {
		return nil, fmt.Errorf("render pod template: %w", err)
	}
	return buf.Bytes(), nil
}

func (f *Factory) fromTemplate(doc string, format TemplateFormat) (*corev1.Pod, error) {
	data, err := f.render(doc)
	if err != nil {
		return nil, err
	}

	pod := &corev1.Pod{}
	switch format {
	case TemplateFormatJSON:
		err = json.Unmarshal(data, pod)
	case TemplateFormatYAML:
		err = yaml.Unmarshal(data, pod)
	default:
		return nil, fmt.Errorf("%w: template format %q", ErrUnsupportedCreationMode, format)
	}
	if err != nil {
		return nil, fmt.Errorf("decode pod template: %w", err)
	}
	if len(pod.Spec.Containers) == 0 {
		return nil, fmt.Errorf("pod template has no containers")
	}
	return pod, nil
}

func (f *Factory) fetchTemplate(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("fetch pod template: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch pod template: %w", err)
	}
	defer resp.Body.Close()

	if err := httputil.CheckStatus(resp); err != nil {
		return "", fmt.Errorf("fetch pod template: %w", err)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTemplateSize))
	if err != nil {
		return "", fmt.Errorf("fetch pod template: %w", err)
	}
	return string(data), nil
}
