package server

import (
	"sync"

	"bluff-master/internal/game"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var validatorOnce sync.Once

func registerValidators() {
	validatorOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = engine.RegisterValidation("nickname", func(fl validator.FieldLevel) bool {
			_, err := game.NormalizeNickname(fl.Field().String())
			return err == nil
		})
		_ = engine.RegisterValidation("gamemode", func(fl validator.FieldLevel) bool {
			switch game.GameMode(fl.Field().String()) {
			case game.ModeNormal, game.ModeQuick:
				return true
			}
			return false
		})
		_ = engine.RegisterValidation("roomcode", func(fl validator.FieldLevel) bool {
			return len(game.NormalizeCode(fl.Field().String())) == game.RoomCodeLength
		})
	})
}
