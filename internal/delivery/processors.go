package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/waclerk/waclerk/internal/store"
)

// Processor handles one delivery message type. A nil error means the job
// was handed to the platform and may be deleted; an error leaves the job in
// active with its attempt counter already incremented.
type Processor interface {
	Type() string
	Process(ctx context.Context, job store.DeliveryJob, target Target) error
}

// textProcessor sends plain text to the linked account's own chat.
type textProcessor struct{}

func (textProcessor) Type() string { return store.DeliveryTypeText }

func (textProcessor) Process(ctx context.Context, job store.DeliveryJob, target Target) error {
	text := stringField(job.Content, "text")
	if text == "" {
		return fmt.Errorf("text job %s has no text", job.MessageID)
	}
	return target.SendMessage(ctx, target.UserJID(), text)
}

// actionableItem is the decoded payload of an ics_actionable_item job.
type actionableItem struct {
	Summary     string
	Description string
	Sender      string
	Group       string
	Deadline    string
}

func decodeActionableItem(content map[string]any) actionableItem {
	return actionableItem{
		Summary:     stringField(content, "summary"),
		Description: stringField(content, "description"),
		Sender:      stringField(content, "sender"),
		Group:       stringField(content, "group_display_name"),
		Deadline:    stringField(content, "timestamp_deadline"),
	}
}

// actionableItemProcessor delivers one extracted action item as a calendar
// attachment: a monospace card as the caption and a single-VEVENT .ics file
// the recipient can import.
type actionableItemProcessor struct {
	now func() time.Time
}

func (actionableItemProcessor) Type() string { return store.DeliveryTypeActionableItem }

func (p actionableItemProcessor) Process(ctx context.Context, job store.DeliveryJob, target Target) error {
	item := decodeActionableItem(job.Content)
	if item.Deadline == "" {
		return fmt.Errorf("actionable item %s has no deadline", job.MessageID)
	}
	ics, err := buildICS(item, p.now())
	if err != nil {
		return err
	}
	caption := "```\n" + renderCard(item.Summary, item.Description, []cardField{
		{Label: "From", Value: item.Sender},
		{Label: "Group", Value: item.Group},
		{Label: "Due", Value: item.Deadline},
	}) + "\n```"
	filename := fmt.Sprintf("item-%.8s.ics", job.MessageID)
	return target.SendFile(ctx, target.UserJID(), ics, filename, "text/calendar", caption)
}

func stringField(content map[string]any, key string) string {
	s, _ := content[key].(string)
	return s
}
