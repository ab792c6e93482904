package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/MrEthical07/identityflow"
)

// subjectTemplate is the optional named block a template uses for the
// message subject. Without it the template key is the subject.
const subjectTemplate = "subject"

// TemplateSender renders notifications with html/template and delivers them
// through a Mailer. Parsed templates are cached per locale and key.
type TemplateSender struct {
	fsys   fs.FS
	locale string
	mailer Mailer

	mu    sync.RWMutex
	cache map[string]*template.Template
}

// NewTemplateSender reads templates from fsys at <locale>/<key>.html.
func NewTemplateSender(fsys fs.FS, locale string, mailer Mailer) *TemplateSender {
	return &TemplateSender{
		fsys:   fsys,
		locale: locale,
		mailer: mailer,
		cache:  make(map[string]*template.Template),
	}
}

func (s *TemplateSender) Send(ctx context.Context, user identityflow.User, templateKey string, payload map[string]string) error {
	tmpl, err := s.template(templateKey)
	if err != nil {
		return err
	}

	msg := newMessage(user, templateKey, payload)
	data := map[string]any{
		"User":    user,
		"Payload": msg.Payload,
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("render %s: %w", templateKey, err)
	}
	msg.Body = body.String()

	msg.Subject = templateKey
	if sub := tmpl.Lookup(subjectTemplate); sub != nil {
		var b bytes.Buffer
		if err := sub.Execute(&b, data); err != nil {
			return fmt.Errorf("render %s subject: %w", templateKey, err)
		}
		msg.Subject = strings.TrimSpace(b.String())
	}

	return s.mailer.Deliver(ctx, msg)
}

// Path returns the template file consulted for templateKey.
func (s *TemplateSender) Path(templateKey string) string {
	return path.Join(s.locale, templateKey+".html")
}

func (s *TemplateSender) template(key string) (*template.Template, error) {
	if key == "" || strings.ContainsAny(key, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, key)
	}
	name := s.Path(key)
	if !fs.ValidPath(name) {
		return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}

	s.mu.RLock()
	tmpl, ok := s.cache[name]
	s.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	if _, err := fs.Stat(s.fsys, name); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	tmpl, err := template.ParseFS(s.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}

	s.mu.Lock()
	s.cache[name] = tmpl
	s.mu.Unlock()
	return tmpl, nil
}
