package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/casca-store/storefront/pkg/models"
	"github.com/sirupsen/logrus"
)

const layout = `{{define "layout"}}<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
{{template "body" .}}
<p style="font-size: 16px; line-height: 1.5;">Happy designing,<br>The Casca Team</p>
</div>{{end}}`

var bodies = map[string]string{
	"welcome": `{{define "body"}}<h1 style="color: #f97316; margin-bottom: 20px;">Welcome to Casca!</h1>
<p style="font-size: 16px; line-height: 1.5;">Hi {{.Name}},</p>
<p style="font-size: 16px; line-height: 1.5;">Thanks for signing up with Casca! You can now create custom phone cases by uploading your own images or using our AI generator.</p>
<p style="font-size: 16px; line-height: 1.5;">Start designing your first case today!</p>{{end}}`,

	"welcome_back": `{{define "body"}}<h1 style="color: #f97316; margin-bottom: 20px;">Welcome back to Casca!</h1>
<p style="font-size: 16px; line-height: 1.5;">Hi {{.Name}},</p>
<p style="font-size: 16px; line-height: 1.5;">Great to see you again! Ready to create another amazing custom phone case?</p>
<p style="font-size: 16px; line-height: 1.5;">Browse your previous designs or start a new one today!</p>{{end}}`,

	"order_received": `{{define "body"}}<h1 style="color: #f97316; margin-bottom: 20px;">Thank you for your order!</h1>
<p style="font-size: 16px; line-height: 1.5;">We're preparing everything for delivery and will notify you once your package has been shipped.</p>
<p style="font-size: 16px; line-height: 1.5;">Order number: <strong>{{.OrderID}}</strong><br>Order date: {{.OrderDate}}{{if .Total}}<br>Total: {{.Total}}{{end}}</p>
<p style="font-size: 16px; line-height: 1.5;"><strong>Shipping to</strong><br>{{.Shipping.Name}}<br>{{.Shipping.City}}{{if .Shipping.State}}, {{.Shipping.State}}{{end}} {{.Shipping.PostalCode}}<br>{{.Shipping.Country}}</p>{{end}}`,

	"status_changed": `{{define "body"}}<h1 style="color: #f97316; margin-bottom: 20px;">Your order is now {{.Status}}</h1>
<p style="font-size: 16px; line-height: 1.5;">Order <strong>{{.OrderID}}</strong> moved from {{.PreviousStatus}} to {{.Status}}.</p>{{end}}`,

	"order_cancelled": `{{define "body"}}<h1 style="color: #f97316; margin-bottom: 20px;">Your order was cancelled</h1>
<p style="font-size: 16px; line-height: 1.5;">Order <strong>{{.OrderID}}</strong> has been cancelled.{{if .Reason}} Reason: {{.Reason}}{{end}}</p>
<p style="font-size: 16px; line-height: 1.5;">Your design is still saved, so you can order it again at any time.</p>{{end}}`,
}

var templates = parseTemplates()

func parseTemplates() map[string]*template.Template {
	out := make(map[string]*template.Template, len(bodies))
	for name, body := range bodies {
		t := template.Must(template.New(name).Parse(layout))
		out[name] = template.Must(t.Parse(body))
	}
	return out
}

func render(name string, data interface{}) (string, error) {
	t, ok := templates[name]
	if !ok {
		return "", fmt.Errorf("unknown email template %q", name)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", fmt.Errorf("failed to render %s email: %w", name, err)
	}
	return buf.String(), nil
}

type OrderReceived struct {
	OrderID   string
	OrderDate time.Time
	Total     models.Amount
	Currency  string
	Shipping  models.Address
}

type StatusChanged struct {
	OrderID        string
	Status         models.OrderStatus
	PreviousStatus models.OrderStatus
}

type OrderCancelled struct {
	OrderID string
	Reason  string
}

// Mailer renders the storefront's emails and hands them to a Sender.
type Mailer struct {
	sender Sender
	logger *logrus.Logger
}

func NewMailer(sender Sender, logger *logrus.Logger) *Mailer {
	return &Mailer{sender: sender, logger: logger}
}

func (m *Mailer) send(ctx context.Context, to, subject, name string, data interface{}) error {
	html, err := render(name, data)
	if err != nil {
		return err
	}
	return m.sender.Send(ctx, Message{To: []string{to}, Subject: subject, HTML: html})
}

func (m *Mailer) Welcome(ctx context.Context, to, name string) error {
	return m.send(ctx, to, "Welcome to Casca - Create Your First Custom Case!", "welcome",
		map[string]string{"Name": displayName(to, name)})
}

func (m *Mailer) WelcomeBack(ctx context.Context, to, name string) error {
	return m.send(ctx, to, "Welcome back to Casca!", "welcome_back",
		map[string]string{"Name": displayName(to, name)})
}

func (m *Mailer) OrderReceived(ctx context.Context, to string, data OrderReceived) error {
	view := map[string]interface{}{
		"OrderID":   data.OrderID,
		"OrderDate": data.OrderDate.Format("2 Jan 2006"),
		"Shipping":  data.Shipping,
		"Total":     "",
	}
	if data.Total > 0 {
		view["Total"] = strings.TrimSpace(strings.ToUpper(data.Currency) + " " + data.Total.Major())
	}
	return m.send(ctx, to, "Thank you for your order!", "order_received", view)
}

func (m *Mailer) StatusChanged(ctx context.Context, to string, data StatusChanged) error {
	return m.send(ctx, to, fmt.Sprintf("Your Casca order is %s", strings.ToLower(string(data.Status))), "status_changed", data)
}

func (m *Mailer) OrderCancelled(ctx context.Context, to string, data OrderCancelled) error {
	return m.send(ctx, to, "Your Casca order was cancelled", "order_cancelled", data)
}

// displayName falls back to the local part of the address.
func displayName(email, name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return strings.SplitN(email, "@", 2)[0]
}
