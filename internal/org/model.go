package org

import "time"

// User is one member of the agency's org directory. IDs are the external
// account identifiers the approval engine sees in headers and process rows.
type User struct {
	ID           string    `gorm:"type:varchar(100);column:id;primaryKey" json:"id"`
	Name         string    `gorm:"type:varchar(100);column:name;not null" json:"name"`
	DepartmentID string    `gorm:"type:varchar(100);column:department_id;index" json:"departmentId"`
	SupervisorID *string   `gorm:"type:varchar(100);column:supervisor_id" json:"supervisorId,omitempty"`
	Role         string    `gorm:"type:varchar(50);column:role" json:"role"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}

// Department is one unit of the agency's org hierarchy.
type Department struct {
	ID         string    `gorm:"type:varchar(100);column:id;primaryKey" json:"id"`
	Name       string    `gorm:"type:varchar(100);column:name;not null" json:"name"`
	HeadUserID string    `gorm:"type:varchar(100);column:head_user_id" json:"headUserId"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Department) TableName() string {
	return "departments"
}
