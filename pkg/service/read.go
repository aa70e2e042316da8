package service

import (
	"errors"

	"ndnrepo/pkg/command"
	"ndnrepo/pkg/core"
	"ndnrepo/pkg/index"
	"ndnrepo/pkg/storage"
	"ndnrepo/pkg/transport"
)

// onData 服务 <prefix>/data/<name> 形式的读取请求
// 负载里可以携带选择器；找不到数据时不回复，请求方会超时
func (n *Node) onData(in transport.Interest, reply transport.Responder) {
	base := n.cfg.Prefix.Size() + 1
	if in.Name.Size() <= base {
		return
	}
	name := in.Name.SubName(base)

	var sel index.Selectors
	if len(in.Payload) > 0 {
		var p command.Parameter
		if err := core.DecodeObject(in.Payload, &p); err != nil {
			n.logger.Debug("Ignoring read with undecodable selectors", "name", name.String(), "err", err)
			return
		}
		sel = p.Selectors()
	}

	d, err := n.repo.ReadData(n.ctx, name, sel)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			n.logger.Error("Failed to read data", "name", name.String(), "err", err)
		}
		return
	}
	reply(d.Bytes())
}
