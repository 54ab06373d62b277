// app/seenmw.go
package app

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// TouchLastSeen records activity at most once per throttle window per user.
// Without redis every request touches the row.
func TouchLastSeen(users Users, rdb *redis.Client, throttle time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := CurrentUserID(c)
		if uid == "" {
			c.Next()
			return
		}

		touch := true
		if rdb != nil {
			key := "gear:user:lastseen:" + uid
			touch, _ = rdb.SetNX(c, key, "1", throttle).Result()
		}
		if touch {
			if err := users.TouchUserSeen(c, uid); err != nil {
				log.Printf("[seen] %s: %v", uid, err) // never blocks the request
			}
		}
		c.Next()
	}
}
