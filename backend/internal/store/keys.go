package store

import "fmt"

// 键语义：
// - contentKey(prefix, docID): 文档最新内容（String）

const keyContentFmt = "%s:doc:{docID:%s}:content"

func contentKey(prefix, docID string) string { return fmt.Sprintf(keyContentFmt, prefix, docID) }
