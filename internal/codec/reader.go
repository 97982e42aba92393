package codec

import (
	"context"

	"abiscope/internal/connection"
	apperrors "abiscope/internal/errors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// Caller 通过eth_call读取合约
type Caller struct {
	reader connection.ChainReader
	logger *logrus.Logger
}

// NewCaller 创建只读调用器
func NewCaller(reader connection.ChainReader, logger *logrus.Logger) *Caller {
	return &Caller{reader: reader, logger: logger}
}

// Read 打包参数，执行eth_call，解包并格式化返回值
func (c *Caller) Read(ctx context.Context, to common.Address, fn *Function, args []string) ([]DecodedArg, error) {
	data, err := Calldata(fn, args)
	if err != nil {
		return nil, err
	}

	result, err := c.reader.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.Wrap(ErrCallFailed, err).
			WithAddress(to.Hex()).
			WithContext("function", fn.Signature)
	}

	outputs, err := unpackArgs(fn.method.Outputs, result)
	if err != nil {
		return nil, apperrors.Wrap(ErrCallFailed, err).
			WithAddress(to.Hex()).
			WithContext("function", fn.Signature)
	}

	c.logger.WithFields(logrus.Fields{
		"to":       to.Hex(),
		"function": fn.Signature,
		"outputs":  len(outputs),
	}).Debug("只读调用完成")

	return outputs, nil
}
