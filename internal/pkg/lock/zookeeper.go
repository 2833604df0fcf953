// internal/pkg/lock/zookeeper.go
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-zookeeper/zk"
)

const lockRoot = "/flashmart_locks"

// ZkLocker 是 KeyLocker 的 ZooKeeper 实现。
// 采用临时顺序节点 + 监听前驱节点的经典公平锁方案：
// 竞争者按创建顺序排队，会话断开后节点自动清理，不会产生死锁。
type ZkLocker struct {
	conn *zk.Conn
}

func NewZkLocker(conn *zk.Conn) *ZkLocker {
	return &ZkLocker{conn: conn}
}

func (l *ZkLocker) ensurePath(path string) error {
	exists, _, err := l.conn.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = l.conn.Create(path, []byte{}, 0, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		return err
	}
	return nil
}

func (l *ZkLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if err := l.ensurePath(lockRoot); err != nil {
		return nil, fmt.Errorf("failed to ensure lock root: %w", err)
	}
	lockPath := lockRoot + "/" + key
	if err := l.ensurePath(lockPath); err != nil {
		return nil, fmt.Errorf("failed to ensure lock path %s: %w", lockPath, err)
	}

	// 1. 创建自己的临时顺序节点
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(lockPath+"/lock-", []byte{}, zk.WorldACL(zk.PermAll))
	if err != nil {
		return nil, fmt.Errorf("failed to create sequential node: %w", err)
	}

	for {
		// 2. 列出所有竞争者并排序
		children, _, err := l.conn.Children(lockPath)
		if err != nil {
			l.conn.Delete(nodePath, -1)
			return nil, fmt.Errorf("failed to list lock children: %w", err)
		}
		sort.Strings(children)

		myNode := strings.TrimPrefix(nodePath, lockPath+"/")
		if myNode == children[0] {
			// 自己是最小节点，获锁成功
			release := func() { l.conn.Delete(nodePath, -1) }
			return release, nil
		}

		// 3. 监听前驱节点，等它释放后重新竞争
		prevIndex := -1
		for i, child := range children {
			if child == myNode {
				prevIndex = i - 1
				break
			}
		}
		if prevIndex < 0 {
			l.conn.Delete(nodePath, -1)
			return nil, errors.New("own lock node missing from children listing")
		}
		prevPath := lockPath + "/" + children[prevIndex]

		exists, _, eventChan, err := l.conn.ExistsW(prevPath)
		if err != nil {
			l.conn.Delete(nodePath, -1)
			return nil, fmt.Errorf("failed to watch previous node: %w", err)
		}
		if !exists {
			// 前驱在设置 watch 前刚好被删除，直接重试
			continue
		}

		select {
		case <-eventChan:
			continue
		case <-ctx.Done():
			l.conn.Delete(nodePath, -1)
			return nil, ctx.Err()
		}
	}
}

var _ KeyLocker = (*ZkLocker)(nil)
