package dao

import (
	"context"
	"errors"
	"fmt"

	"deskchat/deskchat/sources/psql/models"

	"gorm.io/gorm"
)

type AgentDAO struct {
	DB *gorm.DB
}

func NewAgentDAO(db *gorm.DB) *AgentDAO {
	return &AgentDAO{DB: db}
}

func (dao *AgentDAO) GetAgentByID(ctx context.Context, id string) (*models.Agent, error) {
	var agent models.Agent
	err := dao.DB.WithContext(ctx).First(&agent, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (dao *AgentDAO) GetAgentByEmail(ctx context.Context, email string) (*models.Agent, error) {
	var agent models.Agent
	err := dao.DB.WithContext(ctx).Where("email = ?", email).First(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (dao *AgentDAO) CreateAgent(ctx context.Context, email, displayName, passwordHash string) (*models.Agent, error) {
	existing, err := dao.GetAgentByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("create agent %s: %w", email, ErrEmailTaken)
	}
	agent := models.Agent{
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
	}
	if err := dao.DB.WithContext(ctx).Create(&agent).Error; err != nil {
		return nil, err
	}
	return &agent, nil
}
