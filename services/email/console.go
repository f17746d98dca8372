// Package email provides core.EmailService implementations.
package email

import (
	"fmt"
	"net/mail"
	"strings"
	"sync"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core"
)

// ConsoleService writes emails to stdout. It is the development and test
// backend; sent messages are retained for inspection.
type ConsoleService struct {
	mu           sync.Mutex
	SentMessages []*core.EmailMessage
}

var _ core.EmailService = (*ConsoleService)(nil)

func NewConsoleService() *ConsoleService { return &ConsoleService{} }

func (svc *ConsoleService) SendMessages(messages ...*core.EmailMessage) {
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

func (svc *ConsoleService) send(msg *core.EmailMessage) {
	if !msg.HasRecipients() {
		return
	}
	if err := msg.Render(); err != nil {
		fmt.Printf("email.ConsoleService: rendering %q: %v\n", msg.Subject, err)
		return
	}
	if !msg.HasContent() {
		return
	}

	svc.mu.Lock()
	svc.SentMessages = append(svc.SentMessages, msg)
	svc.mu.Unlock()

	if core.Conf.TestMode {
		return
	}
	sep := strings.Repeat("-", 70)
	from := core.Conf.DefaultFromEmail()
	fmt.Printf("%s\nFrom: %s\nTo: %s\nSubject: %s\n\n%s\n%s\n",
		sep, from.String(), formatAddresses(msg.To), msg.Subject, msg.TextContent, sep)
}

// LastMessage returns the most recently sent message, nil if none.
func (svc *ConsoleService) LastMessage() *core.EmailMessage {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if len(svc.SentMessages) == 0 {
		return nil
	}
	return svc.SentMessages[len(svc.SentMessages)-1]
}

func formatAddresses(addrs []mail.Address) string {
	strs := make([]string, len(addrs))
	for i, addr := range addrs {
		strs[i] = addr.String()
	}
	return strings.Join(strs, ", ")
}
