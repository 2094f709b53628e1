package app

import (
	log "github.com/sirupsen/logrus"
)

// quietLogger глушит вывод компонентов в тестах.
func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("test", "app")
}

// memoryConfig возвращает конфигурацию memory-хранилища с начальными остатками.
func memoryConfig() Config {
	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverMemory
	cfg.SeedStock = "sku-1=10,sku-2=3"
	cfg.SeedPoints = "cust-1=1000"
	cfg.SeedCoupons = "SPRING=250"
	return cfg
}
