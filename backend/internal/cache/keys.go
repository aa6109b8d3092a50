package cache

import (
	"fmt"
	"strconv"
)

// 键语义：
// - roomKey(docID):           房间在线成员（Set<userId>）
// - memberKey(docID, userID): 成员心跳键，过期即离线
// - namesKey(docID):          房间内 userId→username 映射（Hash）

const (
	keyRoomFmt   = "presence:room:{docID:%s}"
	keyMemberFmt = "presence:room:{docID:%s}:member:%s"
	keyNamesFmt  = "presence:room:names:{docID:%s}"
)

func roomKey(docID string) string  { return fmt.Sprintf(keyRoomFmt, docID) }
func namesKey(docID string) string { return fmt.Sprintf(keyNamesFmt, docID) }

func memberKey(docID string, userID uint64) string {
	return fmt.Sprintf(keyMemberFmt, docID, strconv.FormatUint(userID, 10))
}
