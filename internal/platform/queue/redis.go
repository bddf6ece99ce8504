package queue

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
)

var RDB *redis.Client

func ConnectRedis(addr, password string, db int) {
	RDB = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if _, err := RDB.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("Could not connect to Redis: %v", err)
	}
	log.Println("INFO: Successfully connected to Redis")
}

func CloseRedis() {
	if RDB != nil {
		RDB.Close()
		log.Println("INFO: Redis connection closed")
	}
}
