package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/lanchat-go/internal/json"
	"github.com/lk2023060901/lanchat-go/pkg/log"
	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
)

const fileSinkMaxRetries = 3

// FileSink 把用户列表以缩进 JSON 数组写入本地文件。
//
// 先写同目录下的临时文件再 rename，读者不会看到写了一半的内容。
type FileSink struct {
	path string
}

var _ Sink = (*FileSink)(nil)

func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

func (s *FileSink) Name() string {
	return "file:" + s.path
}

func (s *FileSink) Persist(ctx context.Context, users []User) error {
	data, err := json.MarshalIndent(nonNil(users), "", "  ")
	if err != nil {
		return merr.WrapErrPersistence(s.Name(), err)
	}
	data = append(data, '\n')

	bo := backoff.WithContext(backoff.WithMaxRetries(newFileBackOff(), fileSinkMaxRetries), ctx)
	err = backoff.RetryNotify(func() error {
		return s.writeAtomic(data)
	}, bo, func(err error, d time.Duration) {
		log.Ctx(ctx).Warn("write snapshot failed, retry later",
			zap.String("path", s.path), zap.Duration("delay", d), zap.Error(err))
	})
	if err != nil {
		return merr.WrapErrPersistence(s.Name(), err)
	}
	log.Ctx(ctx).Info("user data saved", zap.String("path", s.path), zap.Int("users", len(users)))
	return nil
}

func (s *FileSink) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errors.Wrapf(err, "rename %s", tmpName)
	}
	return nil
}

func newFileBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = time.Second
	return bo
}
