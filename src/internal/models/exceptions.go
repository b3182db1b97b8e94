package models

import "errors"

var (
	ErrRedisConnection = errors.New("redis connection error")
	ErrRedisGet        = errors.New("redis get error")
	ErrRedisSet        = errors.New("redis set error")
	ErrRedisDelete     = errors.New("redis delete error")
	ErrRedisDecode     = errors.New("redis value decode error")
)

var (
	ErrTokenMissing      = errors.New("authorization token is required")
	ErrInvalidToken      = errors.New("invalid token")
	ErrTokenExpired      = errors.New("token expired")
	ErrSubjectUnresolved = errors.New("no user for token subject")
	ErrNotTenantMember   = errors.New("user is not an active tenant member")
)

var (
	ErrDatabaseConnection = errors.New("database connection error")
	ErrDatabaseQuery      = errors.New("database query error")
	ErrDatabaseUpdate     = errors.New("database update error")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidParams      = errors.New("invalid parameters")
)

var (
	ErrQueuePublish = errors.New("queue publish error")
	ErrQueueConsume = errors.New("queue consume error")
	ErrBadMessage   = errors.New("malformed queue message")
)
