package profile

// Profile is an assistant configuration that can service turns.
type Profile struct {
	ID           string   `json:"chatbotId"`
	GroupName    string   `json:"groupName"`
	Name         string   `json:"name"`
	SystemPrompt string   `json:"systemPrompt"`
	Figures      []string `json:"figures,omitempty"` // attachment paths returned as CONTEXT
}

// Seed provides the default profiles of a fresh backend.
func Seed() []Profile {
	return []Profile{
		{
			ID:           "admin",
			GroupName:    "Admin",
			Name:         "General assistant",
			SystemPrompt: "You are a helpful assistant. Answer concisely and cite retrieved context when it is available.",
		},
		{
			ID:           "retail",
			GroupName:    "Admin",
			Name:         "Retail assistant",
			SystemPrompt: "You are a customer service agent for an online store. Answer questions about goods, orders and delivery.",
			Figures:      []string{"retail/size-chart.png"},
		},
	}
}
