package dto

// ChapaWebhookRequest covers both callback shapes the gateway sends: a flat
// event and one nested under data.
type ChapaWebhookRequest struct {
	TxRef string `json:"tx_ref"`
	Data  *struct {
		TxRef string `json:"tx_ref"`
	} `json:"data"`
}

type WebhookResponse struct {
	OK         bool   `json:"ok"`
	TxRef      string `json:"tx_ref"`
	Idempotent bool   `json:"idempotent"`
}
