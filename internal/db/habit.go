package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Habit 定义了习惯模型
// 频率由 FreqNum/FreqDen 描述（freq_den 天内完成 freq_num 次），WeekdaySchedule 为星期位掩码，bit0 = 周日
// Revision 在每次影响统计的写入时递增，用作统计缓存的版本号
type Habit struct {
	ID              uuid.UUID `gorm:"type:varchar(36);primaryKey"`
	UserID          uuid.UUID `gorm:"type:varchar(36);index;not null"`
	Name            string    `gorm:"size:255;not null"`
	Description     string
	Question        string `gorm:"size:500"`
	HabitType       string `gorm:"size:20;not null"`
	TargetValue     *float64
	TargetType      string `gorm:"size:20;not null"`
	Unit            string `gorm:"size:50"`
	FreqNum         int    `gorm:"not null"`
	FreqDen         int    `gorm:"not null"`
	WeekdaySchedule int    `gorm:"not null"`
	Color           int
	Position        int
	Archived        bool `gorm:"index"`
	Revision        int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BeforeCreate 补齐主键
func (h *Habit) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}

// Repetition 记录一次打卡
// HabitID + Date 采用唯一索引，保证幂等；Date 统一存储为 UTC 零点
type Repetition struct {
	ID             uuid.UUID `gorm:"type:varchar(36);primaryKey"`
	HabitID        uuid.UUID `gorm:"type:varchar(36);not null;index:idx_repetition_habit_date,unique"`
	UserID         uuid.UUID `gorm:"type:varchar(36);index;not null"`
	Date           time.Time `gorm:"not null;index:idx_repetition_habit_date,unique"`
	Status         string    `gorm:"size:20;not null"`
	Value          float64
	Notes          string
	CompletionTime *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// BeforeCreate 补齐主键
func (r *Repetition) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// AfterFind 把日期列还原为 UTC；postgres 驱动按进程时区解码 timestamptz
func (r *Repetition) AfterFind(tx *gorm.DB) error {
	r.Date = r.Date.UTC()
	return nil
}

// Streak 是连胜区间的派生缓存，打卡历史变化时整体重写
type Streak struct {
	ID        uint      `gorm:"primaryKey"`
	HabitID   uuid.UUID `gorm:"type:varchar(36);index;not null"`
	UserID    uuid.UUID `gorm:"type:varchar(36);index;not null"`
	StartDate time.Time `gorm:"not null"`
	EndDate   time.Time `gorm:"not null"`
	Length    int       `gorm:"not null"`
	CreatedAt time.Time
}

// AfterFind 把日期列还原为 UTC
func (s *Streak) AfterFind(tx *gorm.DB) error {
	s.StartDate = s.StartDate.UTC()
	s.EndDate = s.EndDate.UTC()
	return nil
}

// Score 是逐日强度分的派生缓存，Score 为 [0,100000] 的定点整数
type Score struct {
	ID        uint      `gorm:"primaryKey"`
	HabitID   uuid.UUID `gorm:"type:varchar(36);not null;index:idx_score_habit_date,unique"`
	UserID    uuid.UUID `gorm:"type:varchar(36);index;not null"`
	Date      time.Time `gorm:"not null;index:idx_score_habit_date,unique"`
	Score     int       `gorm:"not null"`
	CreatedAt time.Time
}

// AfterFind 把日期列还原为 UTC
func (s *Score) AfterFind(tx *gorm.DB) error {
	s.Date = s.Date.UTC()
	return nil
}
