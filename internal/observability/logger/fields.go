package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - PKI / TRUST CHAIN
// =================================================================================

// Kind crea un campo para el tipo de certificado (root, ea, aa, ec, at).
func Kind(v string) zap.Field {
	return zap.String("cert_kind", v)
}

// HashedID crea un campo para el HashedId8 (hex) de un certificado.
func HashedID(v string) zap.Field {
	return zap.String("hashed_id8", v)
}

// ATIndex crea un campo para el slot de un authorization ticket.
func ATIndex(v uint64) zap.Field {
	return zap.Uint64("at_index", v)
}

// ElectionCounter crea un campo para el contador de elección de un AT.
func ElectionCounter(v uint64) zap.Field {
	return zap.Uint64("election_counter", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - PROTOCOLO
// =================================================================================

// RequestID crea un campo para el id de correlación de un intercambio EA/AA.
func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// Protocol crea un campo para el protocolo (enrollment, authorization).
func Protocol(v string) zap.Field {
	return zap.String("protocol", v)
}

// ResponseCode crea un campo para el código de respuesta de la PKI.
func ResponseCode(v string) zap.Field {
	return zap.String("response_code", v)
}

// Attempt crea un campo para el número de intento.
func Attempt(v int) zap.Field {
	return zap.Int("attempt", v)
}

// Duration crea un campo para la duración de una operación.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Path crea un campo para una ruta de archivo.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Count crea un campo para un conteo.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}
