package models

// User represents a temple staff account for the admin surface.
type User struct {
	BaseModel
	Name         string `json:"name"`
	Email        string `gorm:"uniqueIndex" json:"email"`
	Phone        string `json:"phone"`
	PasswordHash string `json:"-"`
	Role         string `gorm:"default:admin" json:"role"`
}
