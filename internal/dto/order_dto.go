package dto

// UpdateOrderStatusRequest transitions an order through its lifecycle. The
// transition timestamp drives when the conversation eventually closes.
type UpdateOrderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=new in_progress completed cancelled refunded"`
}

// AssignExpertRequest attaches an expert to an order, making the conversation
// eligible for listing and notifications.
type AssignExpertRequest struct {
	ExpertID    string `json:"expert_id" validate:"required"`
	ExpertName  string `json:"expert_name" validate:"required"`
	ExpertEmail string `json:"expert_email" validate:"required,email"`
}
