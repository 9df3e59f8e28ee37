package sendmessage

import (
	"github.com/fakturo/fakturo/pkg/protocol"
)

// ActionFactory creates send_message actions bound to one Deliverer.
type ActionFactory struct {
	deliverer Deliverer
}

func NewActionFactory(deliverer Deliverer) *ActionFactory {
	return &ActionFactory{deliverer: deliverer}
}

func (*ActionFactory) ID() string {
	return "send_message"
}

func (f *ActionFactory) Create(config map[string]any) (protocol.ActionExecutor, error) {
	return NewAction(config, f.deliverer)
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"template_id": map[string]any{
				"type":        "string",
				"description": "Identifier of the stored message template to render",
			},
			"recipient_type": map[string]any{
				"type":        "string",
				"description": "Who receives the message",
				"default":     RecipientCustomer,
				"enum":        []string{RecipientCustomer, RecipientCustom},
			},
			"custom_email": map[string]any{
				"type":        "string",
				"description": "Destination address when recipient_type is custom",
			},
		},
		"required": []string{"template_id"},
	}
}
