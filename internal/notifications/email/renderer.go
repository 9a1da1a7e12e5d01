package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	texttemplate "text/template"
	"time"

	"safetyalert/internal/types"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// Kind names an embedded template pair.
type Kind string

const (
	KindServiceAlert Kind = "service_alert"
	KindConfirmation Kind = "confirmation"
	KindReply        Kind = "reply"
)

var allKinds = []Kind{KindServiceAlert, KindConfirmation, KindReply}

// RenderedEmail holds the pre-rendered email content ready for transmission.
type RenderedEmail struct {
	Subject  string
	BodyHTML string
	BodyText string
}

// templateData is shared by every template. Fields a template does not use
// are left empty.
type templateData struct {
	Subject     string
	Heading     string
	Subheading  string
	HeaderColor template.CSS
	AccentColor template.CSS
	GeneratedAt string

	ServiceLabel string
	ServiceEmoji string
	AlertID      string
	UserName     string
	Location     string
	MapURL       string
	Time         string
	Message      string
	DashboardURL string

	ResponderName string
	Station       string
}

// Renderer turns alert and reply payloads into email content using the
// embedded html/template and text/template files.
type Renderer struct {
	htmlTemplates map[Kind]*template.Template
	textTemplates map[Kind]*texttemplate.Template
	sender        types.SenderIdentity
	dashboardURL  string
	now           func() time.Time
}

// RendererConfig holds the parameters needed to construct a Renderer.
type RendererConfig struct {
	FromAddress  string
	FromName     string
	DashboardURL string
	// Now is used for the footer timestamp. Defaults to time.Now.
	Now func() time.Time
}

// NewRenderer parses the embedded templates. It fails if any is missing or
// malformed.
func NewRenderer(cfg RendererConfig) (*Renderer, error) {
	r := &Renderer{
		htmlTemplates: make(map[Kind]*template.Template, len(allKinds)),
		textTemplates: make(map[Kind]*texttemplate.Template, len(allKinds)),
		sender:        types.SenderIdentity{Address: cfg.FromAddress, Name: cfg.FromName},
		dashboardURL:  cfg.DashboardURL,
		now:           cfg.Now,
	}
	if r.now == nil {
		r.now = time.Now
	}

	baseHTML, err := templateFS.ReadFile("templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to read base.html: %w", err)
	}

	for _, kind := range allKinds {
		name := string(kind)

		htmlContent, err := templateFS.ReadFile("templates/" + name + ".html")
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to read %s.html: %w", name, err)
		}
		htmlTmpl, err := template.New("base").Parse(string(baseHTML))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to parse base.html: %w", err)
		}
		if _, err := htmlTmpl.Parse(string(htmlContent)); err != nil {
			return nil, fmt.Errorf("renderer: failed to parse %s.html: %w", name, err)
		}
		r.htmlTemplates[kind] = htmlTmpl

		txtContent, err := templateFS.ReadFile("templates/" + name + ".txt")
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to read %s.txt: %w", name, err)
		}
		txtTmpl, err := texttemplate.New(name).Parse(string(txtContent))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to parse %s.txt: %w", name, err)
		}
		r.textTemplates[kind] = txtTmpl
	}

	return r, nil
}

// Sender returns the From identity for every relay message.
func (r *Renderer) Sender() types.SenderIdentity { return r.sender }

// RenderServiceAlert renders the responder notification for a new alert.
func (r *Renderer) RenderServiceAlert(p *types.AlertPayload) (*RenderedEmail, error) {
	if p == nil {
		return nil, types.NewAppError(types.ErrCodeInternalRender, "alert payload is nil", nil)
	}
	pres := PresentationFor(p.ServiceType)
	data := r.alertData(p, pres)
	data.Subject = ServiceAlertSubject(p.ServiceType)
	data.Heading = pres.Emoji + " NEW EMERGENCY ALERT"
	data.Subheading = "IMMEDIATE ATTENTION REQUIRED"
	data.HeaderColor = template.CSS(pres.Color)
	return r.render(KindServiceAlert, data)
}

// RenderConfirmation renders the receipt sent to the alert creator.
func (r *Renderer) RenderConfirmation(p *types.AlertPayload) (*RenderedEmail, error) {
	if p == nil {
		return nil, types.NewAppError(types.ErrCodeInternalRender, "alert payload is nil", nil)
	}
	pres := PresentationFor(p.ServiceType)
	data := r.alertData(p, pres)
	data.Subject = ConfirmationSubject(p.ServiceType)
	data.Heading = "✅ ALERT RECEIVED"
	data.Subheading = "We have successfully received your " + data.ServiceLabel + " emergency request"
	data.HeaderColor = "#059669"
	return r.render(KindConfirmation, data)
}

// RenderReply renders the responder reply sent to the alert creator.
func (r *Renderer) RenderReply(rp *types.ReplyPayload) (*RenderedEmail, error) {
	if rp == nil {
		return nil, types.NewAppError(types.ErrCodeInternalRender, "reply payload is nil", nil)
	}
	pres := PresentationFor(rp.ServiceType)
	data := templateData{
		Subject:       ReplySubject(rp.ServiceType),
		Heading:       "✅ EMERGENCY RESPONSE RECEIVED",
		Subheading:    "A responder has replied to your alert",
		HeaderColor:   "#059669",
		AccentColor:   template.CSS(pres.Color),
		GeneratedAt:   r.generatedAt(),
		ServiceLabel:  ServiceLabel(rp.ServiceType),
		ServiceEmoji:  pres.Emoji,
		AlertID:       rp.AlertID,
		Message:       rp.Message,
		ResponderName: rp.ResponderName,
		Station:       rp.Station,
	}
	return r.render(KindReply, data)
}

func (r *Renderer) alertData(p *types.AlertPayload, pres Presentation) templateData {
	d := templateData{
		AccentColor:  template.CSS(pres.Color),
		GeneratedAt:  r.generatedAt(),
		ServiceLabel: ServiceLabel(p.ServiceType),
		ServiceEmoji: pres.Emoji,
		AlertID:      p.AlertID,
		UserName:     p.UserName,
		Location:     p.Location.String(),
		Time:         p.Time.String(),
		Message:      p.Message,
		DashboardURL: r.dashboardURL,
	}
	if lat, lng, ok := p.Location.Coordinates(); ok {
		d.MapURL = "https://www.google.com/maps?q=" + url.QueryEscape(fmt.Sprintf("%f,%f", lat, lng))
	}
	if d.UserName == "" {
		d.UserName = "Unknown"
	}
	return d
}

func (r *Renderer) generatedAt() string {
	return r.now().UTC().Format("Jan 2, 2006 3:04 PM MST")
}

func (r *Renderer) render(kind Kind, data templateData) (*RenderedEmail, error) {
	var htmlBuf bytes.Buffer
	if err := r.htmlTemplates[kind].Execute(&htmlBuf, data); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalRender, fmt.Sprintf("failed to render %s html", kind), err)
	}
	var txtBuf bytes.Buffer
	if err := r.textTemplates[kind].Execute(&txtBuf, data); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalRender, fmt.Sprintf("failed to render %s text", kind), err)
	}
	return &RenderedEmail{
		Subject:  data.Subject,
		BodyHTML: htmlBuf.String(),
		BodyText: txtBuf.String(),
	}, nil
}
