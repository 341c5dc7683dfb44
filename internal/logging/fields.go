package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// CacheFields 提供后端/区域/key 字段，供缓存管理请求日志复用。
func CacheFields(backend, area, key string) logrus.Fields {
	fields := logrus.Fields{
		"backend": backend,
		"area":    area,
	}
	if key != "" {
		fields["key"] = key
	}
	return fields
}
