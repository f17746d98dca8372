package email

import (
	"sync"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core"
)

type sendgridService struct {
	client *sendgrid.Client
	logger core.Logger
}

var _ core.EmailService = (*sendgridService)(nil)

func NewSendgridService(logger core.Logger) *sendgridService {
	return &sendgridService{
		client: sendgrid.NewSendClient(core.Conf.SendgridApiKey),
		logger: logger,
	}
}

func (svc *sendgridService) SendMessages(messages ...*core.EmailMessage) {
	var wg sync.WaitGroup
	for _, msg := range messages {
		wg.Add(1)
		go func(msg *core.EmailMessage) {
			defer wg.Done()
			svc.send(msg)
		}(msg)
	}
	wg.Wait()
}

func (svc *sendgridService) send(msg *core.EmailMessage) {
	if !msg.HasRecipients() {
		return
	}
	if err := msg.Render(); err != nil {
		svc.logger.Error("email.sendgridService: rendering message", "subject", msg.Subject, "error", err)
		return
	}
	if !msg.HasContent() {
		return
	}

	sgMsg := svc.buildMessage(msg)
	resp, err := svc.client.Send(sgMsg)
	if err != nil {
		svc.logger.Error("email.sendgridService: sending message", "subject", msg.Subject, "error", err)
		return
	}
	if resp.StatusCode >= 300 {
		svc.logger.Error("email.sendgridService: unexpected response",
			"subject", msg.Subject, "status", resp.StatusCode, "body", resp.Body)
	}
}

func (svc *sendgridService) buildMessage(msg *core.EmailMessage) *sgmail.SGMailV3 {
	from := core.Conf.DefaultFromEmail()

	sgMsg := sgmail.NewV3Mail()
	sgMsg.SetFrom(sgmail.NewEmail(from.Name, from.Address))
	sgMsg.Subject = msg.Subject

	p := sgmail.NewPersonalization()
	for _, to := range msg.To {
		p.AddTos(sgmail.NewEmail(to.Name, to.Address))
	}
	for _, cc := range msg.Cc {
		p.AddCCs(sgmail.NewEmail(cc.Name, cc.Address))
	}
	for _, bcc := range msg.Bcc {
		p.AddBCCs(sgmail.NewEmail(bcc.Name, bcc.Address))
	}
	sgMsg.AddPersonalizations(p)

	if msg.TextContent != "" {
		sgMsg.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	}
	if msg.HTMLContent != "" {
		sgMsg.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}

	for _, at := range msg.Attachments {
		sgAt := sgmail.NewAttachment()
		sgAt.SetContent(at.Content.String())
		sgAt.SetType(at.ContentType)
		sgAt.SetFilename(at.Filename)
		sgAt.SetDisposition("attachment")
		sgMsg.AddAttachment(sgAt)
	}
	return sgMsg
}
