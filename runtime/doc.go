// Copyright (c) Toolport Authors.
// Licensed under the MIT License.

/*
Package runtime 持有一组具名工具服务的连接，并提供统一的调用入口。

# 生命周期

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

New 只校验配置、构建 Binding，不做任何 I/O（除非开启 EagerConnect）；
连接在首次使用时建立。Close 幂等，可与进行中的调用并发执行，
进行中的调用以 TransportError 结束。

# 调用检查顺序

Invoke 依次检查：运行时已关闭、未知服务、会话策略、工具是否存在
（发现成功时）、限流，然后才交给 Binding。对握手工具的调用会经由
session.Manager，重复握手不会再次接触服务端。
*/
package runtime
